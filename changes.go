package incremental

import (
	"log/slog"
	"slices"
	"strings"

	"github.com/spf13/afero"
)

// ChangeDetectionResult classifies every known document exactly once relative
// to the previous build. All lists are sorted.
type ChangeDetectionResult struct {
	Dirty   []DocPath `json:"dirty"`
	Clean   []DocPath `json:"clean"`
	New     []DocPath `json:"new"`
	Deleted []DocPath `json:"deleted"`
}

// Changed returns the dirty, new and deleted documents together, sorted.
func (r ChangeDetectionResult) Changed() []DocPath {
	changed := make([]DocPath, 0, len(r.Dirty)+len(r.New)+len(r.Deleted))
	changed = append(changed, r.Dirty...)
	changed = append(changed, r.New...)
	changed = append(changed, r.Deleted...)
	slices.Sort(changed)
	return changed
}

// HasChanges reports whether anything is dirty, new or deleted.
func (r ChangeDetectionResult) HasChanges() bool {
	return len(r.Dirty) > 0 || len(r.New) > 0 || len(r.Deleted) > 0
}

// PathResolver maps a logical document path to the file that holds its source.
type PathResolver func(DocPath) string

// ChangeDetector classifies documents as dirty, clean, new or deleted.
//
// The modification time is checked first; only when it differs from the cached
// value is the content hashed. A file modified between the two checks may be
// misclassified, which is accepted for build use.
// A ChangeDetector is not safe for concurrent use.
type ChangeDetector struct {
	fs       afero.Fs
	hasher   *Hasher
	logger   *slog.Logger
	recorder Recorder

	fastPathHits     int
	hashComputations int
}

// NewChangeDetector creates a detector reading files through the hasher's filesystem.
// A nil logger selects slog.Default and a nil recorder disables metrics.
func NewChangeDetector(hasher *Hasher, logger *slog.Logger, recorder Recorder) *ChangeDetector {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = NoopRecorder{}
	}
	return &ChangeDetector{
		fs:       hasher.fs,
		hasher:   hasher,
		logger:   logger,
		recorder: recorder,
	}
}

// DetectChanges classifies docs against cached, reading each document from the
// file named by its path.
func (d *ChangeDetector) DetectChanges(docs []DocPath, cached map[DocPath]*DocumentExports) (ChangeDetectionResult, error) {
	return d.DetectChangesWithResolver(docs, cached, func(p DocPath) string { return p.String() })
}

// DetectChangesWithResolver classifies docs against cached, reading each
// document from the file returned by resolve.
//
// A resolved file that does not exist has modification time 0 and an empty
// hash, so a previously cached document whose file vanished is dirty.
// Hashing errors on existing files are returned as is.
func (d *ChangeDetector) DetectChangesWithResolver(docs []DocPath, cached map[DocPath]*DocumentExports, resolve PathResolver) (ChangeDetectionResult, error) {
	d.fastPathHits = 0
	d.hashComputations = 0

	current := pathSet(docs)
	result := ChangeDetectionResult{
		Dirty:   []DocPath{},
		Clean:   []DocPath{},
		New:     []DocPath{},
		Deleted: []DocPath{},
	}

	for _, doc := range sortedPaths(current) {
		prev := cached[doc]
		if prev == nil {
			result.New = append(result.New, doc)
			d.logger.Debug("Document is new", logDoc(doc))
			continue
		}

		clean, err := d.isClean(resolve(doc), prev)
		if err != nil {
			return ChangeDetectionResult{}, err
		}
		if clean {
			result.Clean = append(result.Clean, doc)
		} else {
			result.Dirty = append(result.Dirty, doc)
			d.logger.Debug("Document is dirty", logDoc(doc))
		}
	}

	for doc := range cached {
		if _, ok := current[doc]; !ok {
			result.Deleted = append(result.Deleted, doc)
		}
	}
	slices.Sort(result.Deleted)

	d.recorder.ObserveChanges(len(result.Dirty), len(result.Clean), len(result.New), len(result.Deleted))
	d.recorder.ObserveDetection(d.fastPathHits, d.hashComputations)
	d.logger.Debug("Change detection finished",
		slog.Int("dirty", len(result.Dirty)),
		slog.Int("clean", len(result.Clean)),
		slog.Int("new", len(result.New)),
		slog.Int("deleted", len(result.Deleted)),
		slog.Int("fast_path_hits", d.fastPathHits),
		slog.Int("hash_computations", d.hashComputations))

	return result, nil
}

// FastPathHits returns how many documents of the last call were classified
// clean from their modification time alone.
func (d *ChangeDetector) FastPathHits() int { return d.fastPathHits }

// HashComputations returns how many content hashes the last call computed.
func (d *ChangeDetector) HashComputations() int { return d.hashComputations }

func (d *ChangeDetector) isClean(file string, prev *DocumentExports) (bool, error) {
	cachedMtime := prev.LastModified()
	if cachedMtime > 0 && d.modTime(file) == cachedMtime {
		d.fastPathHits++
		return true, nil
	}

	d.hashComputations++
	sum, err := d.hasher.HashFile(file)
	if err != nil {
		return false, err
	}
	return sum != "" && strings.EqualFold(sum, prev.ContentHash()), nil
}

// modTime returns the file's modification time in unix seconds, 0 when it cannot be read.
func (d *ChangeDetector) modTime(file string) int64 {
	info, err := d.fs.Stat(file)
	if err != nil {
		return 0
	}
	return info.ModTime().Unix()
}
