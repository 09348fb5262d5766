package incremental

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Config describes a documentation project for incremental builds.
type Config struct {
	SourceDir      string            `yaml:"source_dir"`
	CacheDir       string            `yaml:"cache_dir"`
	Extensions     []string          `yaml:"extensions"`
	GlobalPatterns []string          `yaml:"global_patterns"`
	HashAlgorithm  string            `yaml:"hash_algorithm"`
	PackageVersion string            `yaml:"package_version"`
	Settings       map[string]string `yaml:"settings"`
	SettingsFiles  []string          `yaml:"settings_files"` // files or globs folded into the settings hash
}

// LoadConfig reads a YAML configuration file, expands environment variables,
// applies defaults and validates the result.
func LoadConfig(fs afero.Fs, path string) (*Config, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal config: %w", ErrInvalidConfig, err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.SourceDir == "" {
		c.SourceDir = "docs"
	}
	if c.CacheDir == "" {
		c.CacheDir = filepath.Join("build", ".cache")
	}
	if len(c.Extensions) == 0 {
		c.Extensions = []string{".rst", ".md"}
	}
	if c.GlobalPatterns == nil {
		c.GlobalPatterns = slices.Clone(DefaultGlobalPatterns)
	}
	if c.HashAlgorithm == "" {
		c.HashAlgorithm = string(DefaultAlgorithm)
	}
	if c.PackageVersion == "" {
		c.PackageVersion = PackageVersion
	}
}

// Validate checks the configuration. Violations are reported together.
func (c *Config) Validate() error {
	err := validation.ValidateStruct(c,
		validation.Field(&c.SourceDir, validation.Required),
		validation.Field(&c.CacheDir, validation.Required),
		validation.Field(&c.Extensions, validation.Required, validation.Each(validation.Required, validation.By(isExtension))),
		validation.Field(&c.GlobalPatterns, validation.Each(validation.Required, validation.RuneLength(1, MaxPatternLength))),
		validation.Field(&c.HashAlgorithm, validation.Required, validation.In(string(AlgorithmXXH128), string(AlgorithmSHA256))),
		validation.Field(&c.PackageVersion, validation.Required),
		validation.Field(&c.Settings, validation.Length(0, MaxCollectionItems)),
		validation.Field(&c.SettingsFiles, validation.Each(validation.Required)),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

func isExtension(value interface{}) error {
	s, _ := value.(string)
	if !strings.HasPrefix(s, ".") || strings.ContainsAny(s, `/\`) {
		return fmt.Errorf("must start with a dot and contain no separators")
	}
	return nil
}

// Algorithm returns the configured hash algorithm.
func (c *Config) Algorithm() (Algorithm, error) {
	return ParseAlgorithm(c.HashAlgorithm)
}

// SettingsKey builds the settings fingerprint from Settings and SettingsFiles.
// Entries of SettingsFiles containing glob characters are expanded.
func (c *Config) SettingsKey(fs afero.Fs) *SettingsKey {
	key := NewSettingsKey(fs).
		Version(c.PackageVersion).
		String("hash_algorithm", c.HashAlgorithm).
		Strings(c.Settings)
	for _, f := range c.SettingsFiles {
		if strings.ContainsAny(f, "*?[") {
			key.Glob(f)
		} else {
			key.File(f)
		}
	}
	return key
}

// Discover walks SourceDir and returns the paths of every document with a
// configured extension, relative to SourceDir and slash separated.
func (c *Config) Discover(fs afero.Fs) ([]DocPath, error) {
	var docs []DocPath
	err := afero.Walk(fs, c.SourceDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !slices.Contains(c.Extensions, filepath.Ext(path)) {
			return nil
		}
		rel, err := filepath.Rel(c.SourceDir, path)
		if err != nil {
			return err
		}
		docs = append(docs, DocPath(filepath.ToSlash(rel)))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to discover documents in %s: %w", c.SourceDir, err)
	}
	slices.Sort(docs)
	return docs, nil
}

// Resolver maps document paths back to files under SourceDir.
func (c *Config) Resolver() PathResolver {
	return func(doc DocPath) string {
		return filepath.Join(c.SourceDir, filepath.FromSlash(doc.String()))
	}
}
