package incremental

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"maps"
	"path/filepath"
	"slices"
	"sync"

	"github.com/spf13/afero"
	"github.com/zeebo/xxh3"
)

// Default size for the buffer used when hashing files
const defaultBufferSize = 32 * 1024 // 32KB

// bufferPool is a pool of byte slices used for file I/O during hashing
var bufferPool = sync.Pool{
	New: func() interface{} {
		buffer := make([]byte, defaultBufferSize)
		return &buffer
	},
}

// Algorithm names a content hash algorithm.
type Algorithm string

const (
	// AlgorithmXXH128 is the fast 128-bit non-cryptographic XXH3 digest (32 hex chars).
	AlgorithmXXH128 Algorithm = "xxh128"

	// AlgorithmSHA256 is the cryptographic fallback (64 hex chars).
	AlgorithmSHA256 Algorithm = "sha256"

	// DefaultAlgorithm is used by NewHasher.
	DefaultAlgorithm = AlgorithmXXH128

	// LegacyAlgorithm is assumed for state that did not record an algorithm.
	LegacyAlgorithm = AlgorithmSHA256
)

// ParseAlgorithm validates an algorithm name.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch a := Algorithm(name); a {
	case AlgorithmXXH128, AlgorithmSHA256:
		return a, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidAlgorithm, name)
	}
}

// HexLength returns the length of the hex digest produced by the algorithm.
func (a Algorithm) HexLength() int {
	if a == AlgorithmSHA256 {
		return sha256.Size * 2
	}
	return 32
}

// newHash creates a fresh hash.Hash for the algorithm.
func (a Algorithm) newHash() hash.Hash {
	if a == AlgorithmSHA256 {
		return sha256.New()
	}
	return xxh128Digest{xxh3.New()}
}

// xxh128Digest exposes the 128-bit sum of an XXH3 hasher through hash.Hash.
type xxh128Digest struct {
	*xxh3.Hasher
}

func (d xxh128Digest) Size() int { return 16 }

func (d xxh128Digest) Sum(b []byte) []byte {
	sum := d.Sum128().Bytes()
	return append(b, sum[:]...)
}

// Hasher computes content digests for files, raw bytes and exported document surfaces.
// The algorithm is fixed for the lifetime of the Hasher.
type Hasher struct {
	fs        afero.Fs
	algorithm Algorithm
}

// NewHasher creates a Hasher using DefaultAlgorithm.
// A nil fs selects the OS filesystem.
func NewHasher(fs afero.Fs) *Hasher {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Hasher{fs: fs, algorithm: DefaultAlgorithm}
}

// NewHasherWithAlgorithm creates a Hasher for a specific algorithm.
func NewHasherWithAlgorithm(fs afero.Fs, algorithm Algorithm) (*Hasher, error) {
	if _, err := ParseAlgorithm(string(algorithm)); err != nil {
		return nil, err
	}
	h := NewHasher(fs)
	h.algorithm = algorithm
	return h, nil
}

// Algorithm returns the algorithm this Hasher was created with.
func (h *Hasher) Algorithm() Algorithm {
	return h.algorithm
}

// HashFile returns the hex digest of a file's content.
// A file that does not exist yields "" and no error.
// Read failures on an existing file are reported with the base name only.
func (h *Hasher) HashFile(path string) (string, error) {
	if _, err := h.fs.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("failed to stat %s: %w", filepath.Base(path), unwrapPathError(err))
	}

	f, err := h.fs.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", filepath.Base(path), unwrapPathError(err))
	}
	defer f.Close()

	digest := h.algorithm.newHash()
	if err := hashReader(f, digest); err != nil {
		return "", fmt.Errorf("failed to read %s: %w", filepath.Base(path), unwrapPathError(err))
	}
	return hex.EncodeToString(digest.Sum(nil)), nil
}

// HashContent returns the hex digest of raw bytes.
func (h *Hasher) HashContent(content []byte) string {
	digest := h.algorithm.newHash()
	digest.Write(content)
	return hex.EncodeToString(digest.Sum(nil))
}

// HashExports returns the hex digest of a document's exported surface.
// Map keys and citations are sorted first so the digest is independent of
// insertion order.
func (h *Hasher) HashExports(anchors, sectionTitles map[string]string, citations []string, title string) string {
	digest := h.algorithm.newHash()

	writeSortedMap(digest, "anchors", anchors)
	writeSortedMap(digest, "sections", sectionTitles)

	sortedCitations := slices.Clone(citations)
	slices.Sort(sortedCitations)
	writeString(digest, "citations")
	writeCount(digest, len(sortedCitations))
	for _, c := range sortedCitations {
		writeString(digest, c)
	}

	writeString(digest, "title")
	writeString(digest, title)

	return hex.EncodeToString(digest.Sum(nil))
}

// hashReader hashes the content from a reader using the provided hash function.
func hashReader(content io.Reader, h hash.Hash) error {
	bufPtr := bufferPool.Get().(*[]byte)
	buffer := *bufPtr
	defer bufferPool.Put(bufPtr)

	// Hash the file content
	_, err := io.CopyBuffer(h, content, buffer)
	if err != nil {
		return fmt.Errorf("failed to copy content: %w", err)
	}
	return nil
}

func writeSortedMap(w io.Writer, section string, m map[string]string) {
	writeString(w, section)
	writeCount(w, len(m))
	for _, k := range slices.Sorted(maps.Keys(m)) {
		writeString(w, k)
		writeString(w, m[k])
	}
}

// writeString writes a length-prefixed string so adjacent fields cannot run together.
func writeString(w io.Writer, s string) {
	writeCount(w, len(s))
	io.WriteString(w, s)
}

func writeCount(w io.Writer, n int) {
	var buf [binary.MaxVarintLen64]byte
	w.Write(buf[:binary.PutUvarint(buf[:], uint64(n))])
}

// unwrapPathError drops the *fs.PathError wrapper so the full path is not
// repeated in messages that only carry the base name.
func unwrapPathError(err error) error {
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return pathErr.Err
	}
	return err
}
