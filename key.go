package incremental

import (
	"fmt"
	"hash"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/spf13/afero"
)

// SettingsKey provides a fluent API for fingerprinting everything outside the
// documents that affects every rendered page: configuration values, templates,
// theme files. The resulting digest is the settingsHash stored with the cache.
//
// Inputs are validated eagerly and errors accumulate instead of panicking.
// Errors are only surfaced when Hash() is called.
type SettingsKey struct {
	fs               afero.Fs
	inputs           []input
	extras           map[string]string
	errors           []error // Accumulated validation errors
	accumulateErrors bool    // If true, accumulate all errors; if false, fail-fast
}

// input is the internal interface for settings inputs.
type input interface {
	hash(h hash.Hash, fs afero.Fs) error
	String() string
}

// fileInput represents a single file input.
type fileInput struct {
	path string
}

func (f fileInput) hash(h hash.Hash, fs afero.Fs) error {
	return hashFileInto(fs, f.path, h)
}

func (f fileInput) String() string {
	return fmt.Sprintf("file:%s", f.path)
}

// globInput represents a glob pattern input.
type globInput struct {
	pattern string
}

func (g globInput) hash(h hash.Hash, fs afero.Fs) error {
	matches, err := globFiles(fs, g.pattern)
	if err != nil {
		return fmt.Errorf("glob %s: %w", g.pattern, err)
	}

	// Sort for deterministic ordering
	slices.Sort(matches)

	writeCount(h, len(matches))
	for _, match := range matches {
		writeString(h, filepath.ToSlash(match))
		if err := hashFileInto(fs, match, h); err != nil {
			return fmt.Errorf("glob match: %w", err)
		}
	}
	return nil
}

func (g globInput) String() string {
	return fmt.Sprintf("glob:%s", g.pattern)
}

// dirInput represents a directory input.
type dirInput struct {
	path    string
	exclude []string
}

func (d dirInput) hash(h hash.Hash, fs afero.Fs) error {
	var files []string
	err := afero.Walk(fs, d.path, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		// Check exclusions (basename only)
		for _, pattern := range d.exclude {
			matched, err := filepath.Match(pattern, filepath.Base(path))
			if err != nil {
				return fmt.Errorf("invalid exclude pattern %s: %w", pattern, err)
			}
			if matched {
				return nil
			}
		}

		files = append(files, path)
		return nil
	})
	if err != nil {
		return fmt.Errorf("dir %s: %w", d.path, err)
	}

	slices.Sort(files)

	writeCount(h, len(files))
	for _, file := range files {
		writeString(h, filepath.ToSlash(file))
		if err := hashFileInto(fs, file, h); err != nil {
			return fmt.Errorf("dir file: %w", err)
		}
	}
	return nil
}

func (d dirInput) String() string {
	if len(d.exclude) == 0 {
		return fmt.Sprintf("dir:%s", d.path)
	}
	return fmt.Sprintf("dir:%s(exclude:%s)", d.path, strings.Join(d.exclude, ","))
}

// NewSettingsKey creates an empty SettingsKey reading files from fs.
// A nil fs selects the OS filesystem.
func NewSettingsKey(fs afero.Fs) *SettingsKey {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &SettingsKey{fs: fs}
}

// AccumulateErrors makes the key validate every input and report all problems
// together instead of stopping at the first one.
func (k *SettingsKey) AccumulateErrors() *SettingsKey {
	k.accumulateErrors = true
	return k
}

// File adds a file to the fingerprint.
// Validates that the file exists and accumulates any errors.
func (k *SettingsKey) File(path string) *SettingsKey {
	k.inputs = append(k.inputs, fileInput{path: path})
	if k.skipValidation() {
		return k
	}

	exists, err := afero.Exists(k.fs, path)
	if err != nil {
		k.errors = append(k.errors, fmt.Errorf("failed to check file %s: %w", path, err))
	} else if !exists {
		k.errors = append(k.errors, fmt.Errorf("file does not exist: %s", path))
	}
	return k
}

// Glob adds every file matching pattern. Patterns support ** for recursive matching.
func (k *SettingsKey) Glob(pattern string) *SettingsKey {
	k.inputs = append(k.inputs, globInput{pattern: pattern})
	if k.skipValidation() {
		return k
	}

	if _, err := globSegments(pattern); err != nil {
		k.errors = append(k.errors, fmt.Errorf("invalid glob pattern %s: %w", pattern, err))
	}
	return k
}

// Dir adds every file under a directory, recursively.
// exclude patterns match against basenames only.
func (k *SettingsKey) Dir(path string, exclude ...string) *SettingsKey {
	k.inputs = append(k.inputs, dirInput{path: path, exclude: exclude})
	if k.skipValidation() {
		return k
	}

	exists, err := afero.DirExists(k.fs, path)
	if err != nil {
		k.errors = append(k.errors, fmt.Errorf("failed to check directory %s: %w", path, err))
	} else if !exists {
		k.errors = append(k.errors, fmt.Errorf("directory does not exist: %s", path))
	}

	for _, pattern := range exclude {
		if _, err := filepath.Match(pattern, "test"); err != nil {
			k.errors = append(k.errors, fmt.Errorf("invalid exclude pattern %s: %w", pattern, err))
			if !k.accumulateErrors {
				break
			}
		}
	}
	return k
}

// String adds a key-value setting.
func (k *SettingsKey) String(key, value string) *SettingsKey {
	if k.extras == nil {
		k.extras = make(map[string]string)
	}
	k.extras[key] = value
	return k
}

// Strings adds every entry of settings.
func (k *SettingsKey) Strings(settings map[string]string) *SettingsKey {
	for key, value := range settings {
		k.String(key, value)
	}
	return k
}

// Version is sugar for String("version", v).
func (k *SettingsKey) Version(v string) *SettingsKey {
	return k.String("version", v)
}

// Hash returns the xxhash64 hex digest of all inputs.
// Returns a ValidationError if any input failed validation.
func (k *SettingsKey) Hash() (string, error) {
	if len(k.errors) > 0 {
		return "", newValidationError(k.errors)
	}

	h := xxhash.New()
	for _, in := range k.inputs {
		// Write input string representation for better determinism
		writeString(h, in.String())
		if err := in.hash(h, k.fs); err != nil {
			return "", err
		}
	}

	// Hash extras in sorted order for determinism
	writeCount(h, len(k.extras))
	for _, key := range slices.Sorted(maps.Keys(k.extras)) {
		writeString(h, key)
		writeString(h, k.extras[key])
	}

	return fmt.Sprintf("%016x", h.Sum64()), nil
}

func (k *SettingsKey) skipValidation() bool {
	return !k.accumulateErrors && len(k.errors) > 0
}

// hashFileInto streams a file's content into h.
func hashFileInto(fs afero.Fs, path string, h hash.Hash) error {
	f, err := fs.Open(path)
	if err != nil {
		return fmt.Errorf("file %s: %w", filepath.Base(path), unwrapPathError(err))
	}
	defer f.Close()

	writeString(h, "") // separates the file body from the preceding name
	if err := hashReader(f, h); err != nil {
		return fmt.Errorf("file %s: %w", filepath.Base(path), err)
	}
	return nil
}

// globSegments splits a settings-file pattern into slash-separated segments
// and checks the syntax of each one.
func globSegments(pattern string) ([]string, error) {
	segs := strings.Split(filepath.ToSlash(filepath.Clean(pattern)), "/")
	for _, seg := range segs {
		if seg == "**" {
			continue
		}
		if _, err := filepath.Match(seg, ""); err != nil {
			return nil, err
		}
	}
	return segs, nil
}

// globFiles returns the files matching a settings-file pattern in walk order.
// A "**" segment spans any number of directories; other segments match one
// path element. The walk starts below the pattern's literal prefix, and a
// missing prefix directory matches nothing.
func globFiles(fs afero.Fs, pattern string) ([]string, error) {
	segs, err := globSegments(pattern)
	if err != nil {
		return nil, err
	}

	n := 0
	for n < len(segs)-1 && !strings.ContainsAny(segs[n], "*?[") {
		n++
	}
	root := "."
	if n > 0 {
		root = filepath.FromSlash(strings.Join(segs[:n], "/"))
		if root == "" {
			root = string(filepath.Separator)
		}
		exists, err := afero.DirExists(fs, root)
		if err != nil || !exists {
			return nil, err
		}
	}

	var matches []string
	err = afero.Walk(fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && matchSegments(strings.Split(filepath.ToSlash(path), "/"), segs) {
			matches = append(matches, path)
		}
		return nil
	})
	return matches, err
}

// matchSegments reports whether path elements match pattern segments.
func matchSegments(elems, segs []string) bool {
	for len(segs) > 0 {
		if segs[0] == "**" {
			for i := 0; i <= len(elems); i++ {
				if matchSegments(elems[i:], segs[1:]) {
					return true
				}
			}
			return false
		}
		if len(elems) == 0 {
			return false
		}
		if ok, _ := filepath.Match(segs[0], elems[0]); !ok {
			return false
		}
		elems, segs = elems[1:], segs[1:]
	}
	return len(elems) == 0
}
