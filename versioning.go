package incremental

import (
	"encoding/json"
	"fmt"
	"runtime"
	"strings"
	"time"

	goversion "github.com/hashicorp/go-version"
)

// CacheFormatVersion is bumped whenever the persisted layout changes incompatibly.
const CacheFormatVersion = 1

// PackageVersion is the version of this module recorded in cache metadata.
// A cache written by a different major version is discarded.
const PackageVersion = "1.0.0"

// Metadata is the header record of a persisted cache.
type Metadata struct {
	Version        int    `json:"version"`
	RuntimeVersion string `json:"runtimeVersion"`
	PackageVersion string `json:"packageVersion"`
	SettingsHash   string `json:"settingsHash"`
	CreatedAt      int64  `json:"createdAt"`
	// HashAlgorithm is absent in caches written before it was recorded.
	HashAlgorithm string `json:"hashAlgorithm,omitempty"`
}

// metadataRequired lists the keys every metadata record must carry.
var metadataRequired = []string{"version", "runtimeVersion", "packageVersion", "settingsHash", "createdAt"}

// ParseMetadata decodes a metadata record strictly: every required key must be
// present and of the right JSON type.
func ParseMetadata(raw []byte) (*Metadata, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: metadata: %w", ErrMalformedCache, err)
	}
	for _, key := range metadataRequired {
		v, ok := fields[key]
		if !ok || string(v) == "null" {
			return nil, fmt.Errorf("%w: metadata: missing %s", ErrMalformedCache, key)
		}
	}

	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("%w: metadata: %w", ErrMalformedCache, err)
	}
	return &meta, nil
}

// Versioning decides whether a persisted cache is still compatible with the
// running program.
type Versioning struct {
	formatVersion  int
	runtimeVersion string
	packageVersion string
	now            NowFunc
}

// NewVersioning creates a Versioning for explicit runtime and package versions.
func NewVersioning(runtimeVersion, packageVersion string) *Versioning {
	return &Versioning{
		formatVersion:  CacheFormatVersion,
		runtimeVersion: normalizeRuntimeVersion(runtimeVersion),
		packageVersion: packageVersion,
		now:            time.Now,
	}
}

// DefaultVersioning uses the running Go toolchain version and PackageVersion.
func DefaultVersioning() *Versioning {
	return NewVersioning(runtime.Version(), PackageVersion)
}

// CreateMetadata builds the metadata record for a cache about to be saved.
func (v *Versioning) CreateMetadata(settingsHash string) Metadata {
	return Metadata{
		Version:        v.formatVersion,
		RuntimeVersion: v.runtimeVersion,
		PackageVersion: v.packageVersion,
		SettingsHash:   settingsHash,
		CreatedAt:      v.now().Unix(),
	}
}

// IsCacheValid reports whether meta was written by a compatible program:
// same format version, same runtime major.minor and same package major version.
// Anything unparseable is invalid.
func (v *Versioning) IsCacheValid(meta *Metadata) bool {
	if meta == nil {
		return false
	}
	if meta.Version != v.formatVersion {
		return false
	}

	cachedRuntime, ok := majorMinor(normalizeRuntimeVersion(meta.RuntimeVersion))
	if !ok {
		return false
	}
	currentRuntime, ok := majorMinor(v.runtimeVersion)
	if !ok || cachedRuntime != currentRuntime {
		return false
	}

	cachedMajor, ok := packageMajor(meta.PackageVersion)
	if !ok {
		return false
	}
	currentMajor, ok := packageMajor(v.packageVersion)
	return ok && cachedMajor == currentMajor
}

// normalizeRuntimeVersion turns "go1.25.3" or "devel go1.26-abcdef" into "1.25.3" / "1.26".
func normalizeRuntimeVersion(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndex(s, "go"); i >= 0 {
		s = s[i+2:]
	}
	s = strings.TrimPrefix(s, "v")
	end := strings.IndexFunc(s, func(r rune) bool {
		return r != '.' && (r < '0' || r > '9')
	})
	if end >= 0 {
		s = s[:end]
	}
	return strings.Trim(s, ".")
}

// majorMinor returns "X.Y" for a normalized version with at least two components.
func majorMinor(v string) (string, bool) {
	parts := strings.Split(v, ".")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", false
	}
	return parts[0] + "." + parts[1], true
}

// packageMajor parses a version such as "v2.1.0" and returns its major component.
func packageMajor(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	v, err := goversion.NewVersion(s)
	if err != nil {
		return 0, false
	}
	segments := v.Segments()
	if len(segments) == 0 || segments[0] < 0 {
		return 0, false
	}
	return segments[0], true
}
