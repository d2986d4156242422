// Package manifest handles milan.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/chazu/milan/compiler"
)

// FileName is the manifest file looked up in a project directory.
const FileName = "milan.toml"

// DefaultMaxSteps bounds program runs when the manifest does not.
const DefaultMaxSteps = 10_000_000

// Manifest represents a milan.toml project configuration.
type Manifest struct {
	Project Project       `toml:"project"`
	Source  Source        `toml:"source"`
	Compile CompileConfig `toml:"compile"`
	Output  OutputConfig  `toml:"output"`
	Run     RunConfig     `toml:"run"`
	Cache   CacheConfig   `toml:"cache"`

	// Dir is the directory containing the milan.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// Source configures the program to compile.
type Source struct {
	Entry string `toml:"entry"`
}

// CompileConfig mirrors compiler.Options.
type CompileConfig struct {
	LegacyAnd bool `toml:"legacy-and"`
}

// OutputConfig configures what a successful compilation produces.
type OutputConfig struct {
	Image   string `toml:"image"`
	Listing *bool  `toml:"listing"`
}

// RunConfig configures program execution.
type RunConfig struct {
	MaxSteps int `toml:"max-steps"`
}

// CacheConfig enables the compile cache when Path is set.
type CacheConfig struct {
	Path string `toml:"path"`
}

// Default returns the manifest used when no milan.toml exists.
func Default(dir string) *Manifest {
	m := &Manifest{Dir: dir}
	m.applyDefaults()
	return m
}

func (m *Manifest) applyDefaults() {
	if m.Source.Entry == "" {
		m.Source.Entry = "main.mil"
	}
	if m.Output.Listing == nil {
		listing := true
		m.Output.Listing = &listing
	}
	if m.Run.MaxSteps == 0 {
		m.Run.MaxSteps = DefaultMaxSteps
	}
}

// Load parses a milan.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if m.Run.MaxSteps < 0 {
		return nil, fmt.Errorf("%s: run.max-steps must not be negative", path)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	m.applyDefaults()
	return &m, nil
}

// FindAndLoad walks up from startDir to find a milan.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// EntryPath returns the absolute path of the entry source file.
func (m *Manifest) EntryPath() string {
	return m.resolve(m.Source.Entry)
}

// ImagePath returns the absolute image output path, or "" when no image
// is configured.
func (m *Manifest) ImagePath() string {
	if m.Output.Image == "" {
		return ""
	}
	return m.resolve(m.Output.Image)
}

// CachePath returns the absolute cache database path, or "" when caching
// is disabled.
func (m *Manifest) CachePath() string {
	if m.Cache.Path == "" {
		return ""
	}
	return m.resolve(m.Cache.Path)
}

// PrintListing reports whether a successful compile prints its listing.
func (m *Manifest) PrintListing() bool {
	return m.Output.Listing == nil || *m.Output.Listing
}

// CompilerOptions returns the compiler options the manifest selects.
func (m *Manifest) CompilerOptions() compiler.Options {
	return compiler.Options{LegacyAnd: m.Compile.LegacyAnd}
}

func (m *Manifest) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}
