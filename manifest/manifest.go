// Package manifest handles vcc.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// FileName is the name of the project file looked up by Load.
const FileName = "vcc.toml"

// SourceExt is the extension of script source files.
const SourceExt = ".vc"

// Manifest represents a vcc.toml project configuration.
type Manifest struct {
	Package      Package               `toml:"package"`
	Source       Source                `toml:"source"`
	Dependencies map[string]Dependency `toml:"dependencies"`
	Build        Build                 `toml:"build"`

	// Dir is the directory containing the vcc.toml file (set at load time).
	Dir string `toml:"-"`
}

// Package names the package the project compiles to.
type Package struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
	// Entry is the static method `vcc run` starts, as Class.Method.
	Entry string `toml:"entry"`
}

// Source configures source file locations.
type Source struct {
	Dirs []string `toml:"dirs"`
}

// Dependency is another project whose package this one imports. It is
// built first and its output is made available to the loader.
type Dependency struct {
	Path string `toml:"path"`
}

// Build configures compilation output.
type Build struct {
	Output      string   `toml:"output"`
	SearchPaths []string `toml:"search-paths"`
	Cache       string   `toml:"cache"`
	NoCache     bool     `toml:"no-cache"`
}

// Load parses a vcc.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	return Parse(dir, data)
}

// Parse decodes manifest data for a project rooted at dir. The document is
// checked against the schema before defaults are applied.
func Parse(dir string, data []byte) (*Manifest, error) {
	if err := Validate(data); err != nil {
		return nil, fmt.Errorf("invalid %s in %s: %w", FileName, dir, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", filepath.Join(dir, FileName), err)
	}

	var err error
	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	// Defaults
	if m.Package.Name == "" {
		m.Package.Name = DefaultPackageName(filepath.Base(m.Dir))
	}
	if IsReservedPackage(m.Package.Name) {
		return nil, fmt.Errorf("package name %q is reserved", m.Package.Name)
	}
	if len(m.Source.Dirs) == 0 {
		m.Source.Dirs = []string{"src"}
	}
	if m.Build.Output == "" {
		m.Build.Output = m.Package.Name + ".vcp"
	}
	if m.Build.Cache == "" {
		m.Build.Cache = filepath.Join(".vcc", "cache.db")
	}
	return &m, nil
}

// FindAndLoad walks up from startDir to find a vcc.toml file,
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

// SourceDirPaths returns absolute paths for the configured source directories.
func (m *Manifest) SourceDirPaths() []string {
	var paths []string
	for _, d := range m.Source.Dirs {
		paths = append(paths, m.abs(d))
	}
	return paths
}

// SourceFiles lists every .vc file under the source directories, sorted
// so that builds see files in a stable order.
func (m *Manifest) SourceFiles() ([]string, error) {
	var files []string
	for _, dir := range m.SourceDirPaths() {
		err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && strings.EqualFold(filepath.Ext(path), SourceExt) {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", dir, err)
		}
	}
	sort.Strings(files)
	return files, nil
}

// OutputPath returns the absolute path of the compiled package.
func (m *Manifest) OutputPath() string { return m.abs(m.Build.Output) }

// OutputDir returns the directory the compiled package is written to.
// Dependents search it for imports.
func (m *Manifest) OutputDir() string { return filepath.Dir(m.OutputPath()) }

// SearchPathDirs returns absolute paths for the configured package
// search paths.
func (m *Manifest) SearchPathDirs() []string {
	var paths []string
	for _, d := range m.Build.SearchPaths {
		paths = append(paths, m.abs(d))
	}
	return paths
}

// CachePath returns the build cache database path, or "" when caching is
// disabled.
func (m *Manifest) CachePath() string {
	if m.Build.NoCache {
		return ""
	}
	return m.abs(m.Build.Cache)
}

func (m *Manifest) abs(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}
