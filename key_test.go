package incremental

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"testing"

	"github.com/spf13/afero"
)

func TestSettingsKey_Basic(t *testing.T) {
	memFs := afero.NewMemMapFs()
	createTestFile(t, memFs, "/proj/conf.py", []byte("project = 'docs'"))

	build := func() *SettingsKey {
		return NewSettingsKey(memFs).
			File("/proj/conf.py").
			Version("1.0.0").
			Strings(map[string]string{"theme": "alabaster", "language": "en"})
	}

	first := assertKeyHash(t, build(), "first hash")
	if len(first) != 16 {
		t.Errorf("Hash() = %q, want 16 hex chars", first)
	}
	if again := assertKeyHash(t, build(), "second hash"); again != first {
		t.Errorf("Hash() not deterministic: %s != %s", first, again)
	}

	// Insertion order of settings does not matter.
	reordered := NewSettingsKey(memFs).
		File("/proj/conf.py").
		String("language", "en").
		String("theme", "alabaster").
		Version("1.0.0")
	if got := assertKeyHash(t, reordered, "reordered"); got != first {
		t.Errorf("reordered settings hash %s, want %s", got, first)
	}

	changedSetting := build().String("theme", "furo")
	if got := assertKeyHash(t, changedSetting, "changed setting"); got == first {
		t.Error("changing a setting did not change the hash")
	}

	createTestFile(t, memFs, "/proj/conf.py", []byte("project = 'other'"))
	if got := assertKeyHash(t, build(), "after edit"); got == first {
		t.Error("editing the settings file did not change the hash")
	}
}

func TestSettingsKey_Glob(t *testing.T) {
	memFs := afero.NewMemMapFs()
	testDir := "/proj/_templates"
	createTestDir(t, memFs, testDir)
	for i, content := range []string{"layout", "page", "footer"} {
		createTestFile(t, memFs, filepath.Join(testDir, fmt.Sprintf("t%d.html", i+1)), []byte(content))
	}
	createTestFile(t, memFs, filepath.Join(testDir, "nested", "deep.html"), []byte("deep"))

	pattern := filepath.Join(testDir, "*.html")
	before := assertKeyHash(t, NewSettingsKey(memFs).Glob(pattern), "glob")

	createTestFile(t, memFs, filepath.Join(testDir, "nested", "deep.html"), []byte("deeper"))
	if got := assertKeyHash(t, NewSettingsKey(memFs).Glob(pattern), "nested edit"); got != before {
		t.Error("non-recursive glob picked up a nested file")
	}

	recursive := filepath.Join("/proj", "**", "*.html")
	recBefore := assertKeyHash(t, NewSettingsKey(memFs).Glob(recursive), "recursive glob")
	createTestFile(t, memFs, filepath.Join(testDir, "nested", "deep.html"), []byte("deepest"))
	if got := assertKeyHash(t, NewSettingsKey(memFs).Glob(recursive), "recursive edit"); got == recBefore {
		t.Error("recursive glob missed a nested file")
	}

	createTestFile(t, memFs, filepath.Join(testDir, "t4.html"), []byte("new"))
	if got := assertKeyHash(t, NewSettingsKey(memFs).Glob(pattern), "after add"); got == before {
		t.Error("adding a matching file did not change the hash")
	}

	// A glob over a missing directory matches nothing and is not an error.
	assertKeyHash(t, NewSettingsKey(memFs).Glob("/nowhere/*.html"), "missing dir")
}

func TestSettingsKey_Dir(t *testing.T) {
	memFs := afero.NewMemMapFs()
	testDir := "/proj/_theme"
	subDir := filepath.Join(testDir, "static")
	createTestDir(t, memFs, subDir)

	files := map[string]string{
		filepath.Join(testDir, "theme.conf"): "[theme]",
		filepath.Join(testDir, "build.log"):  "log content",
		filepath.Join(subDir, "style.css"):   "body {}",
		filepath.Join(subDir, "debug.log"):   "another log",
	}
	for path, content := range files {
		createTestFile(t, memFs, path, []byte(content))
	}

	key := func() *SettingsKey { return NewSettingsKey(memFs).Dir(testDir, "*.log") }
	before := assertKeyHash(t, key(), "dir")

	createTestFile(t, memFs, filepath.Join(testDir, "build.log"), []byte("new log content"))
	if got := assertKeyHash(t, key(), "excluded edit"); got != before {
		t.Error("editing an excluded file changed the hash")
	}

	createTestFile(t, memFs, filepath.Join(subDir, "style.css"), []byte("body { color: red }"))
	if got := assertKeyHash(t, key(), "included edit"); got == before {
		t.Error("editing an included file did not change the hash")
	}
}

func TestSettingsKey_Errors(t *testing.T) {
	memFs := afero.NewMemMapFs()

	_, err := NewSettingsKey(memFs).File("/missing.py").Hash()
	var ve *ValidationError
	if !errors.As(err, &ve) || len(ve.Errors) != 1 {
		t.Fatalf("Hash() error = %v, want one validation error", err)
	}

	// Fail-fast stops validating after the first problem.
	_, err = NewSettingsKey(memFs).File("/a").Dir("/b").Glob("/c/[").Hash()
	if !errors.As(err, &ve) || len(ve.Errors) != 1 {
		t.Errorf("fail-fast Hash() error = %v, want one error", err)
	}

	_, err = NewSettingsKey(memFs).AccumulateErrors().File("/a").Dir("/b", "[").Hash()
	if !errors.As(err, &ve) || len(ve.Errors) != 3 {
		t.Errorf("accumulating Hash() error = %v, want three errors", err)
	}

	// Glob syntax is checked even when the directory does not exist.
	_, err = NewSettingsKey(memFs).Glob("/c/[").Hash()
	if !errors.As(err, &ve) || len(ve.Errors) != 1 {
		t.Errorf("bad glob Hash() error = %v, want one error", err)
	}
}

func TestGlobFiles(t *testing.T) {
	memFs := afero.NewMemMapFs()
	for _, path := range []string{
		"/site/conf.yaml",
		"/site/_theme/base.html",
		"/site/_theme/static/style.css",
		"/site/_theme/static/img/logo.svg",
		"/site/_templates/page.html",
	} {
		createTestFile(t, memFs, path, []byte(path))
	}

	testCases := []struct {
		pattern string
		want    []string
	}{
		{"/site/*.yaml", []string{"/site/conf.yaml"}},
		{"/site/_theme/*", []string{"/site/_theme/base.html"}},
		{"/site/**/*.html", []string{"/site/_templates/page.html", "/site/_theme/base.html"}},
		{"/site/_theme/**", []string{"/site/_theme/base.html", "/site/_theme/static/img/logo.svg", "/site/_theme/static/style.css"}},
		{"/site/*/static/*.css", []string{"/site/_theme/static/style.css"}},
		{"/site/_theme/static/img/logo.svg", []string{"/site/_theme/static/img/logo.svg"}},
		{"/missing/**/*.html", nil},
	}

	for _, tc := range testCases {
		t.Run(tc.pattern, func(t *testing.T) {
			got, err := globFiles(memFs, tc.pattern)
			if err != nil {
				t.Fatalf("globFiles() error = %v", err)
			}
			slices.Sort(got)
			if !slices.Equal(got, tc.want) {
				t.Errorf("globFiles(%q) = %v, want %v", tc.pattern, got, tc.want)
			}
		})
	}

	if _, err := globFiles(memFs, "/site/[a-"); err == nil {
		t.Error("expected an error for a malformed pattern")
	}
}

func createTestFile(t *testing.T, fs afero.Fs, path string, content []byte) {
	t.Helper()
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("Failed to create directory for %s: %v", path, err)
	}
	if err := afero.WriteFile(fs, path, content, 0o644); err != nil {
		t.Fatalf("Failed to write test file %s: %v", path, err)
	}
}

func createTestDir(t *testing.T, fs afero.Fs, path string) {
	t.Helper()
	if err := fs.MkdirAll(path, 0o755); err != nil {
		t.Fatalf("Failed to create test directory %s: %v", path, err)
	}
}

func assertKeyHash(t *testing.T, key *SettingsKey, context string) string {
	t.Helper()
	h, err := key.Hash()
	if err != nil {
		t.Fatalf("%s: Hash() error = %v", context, err)
	}
	return h
}
