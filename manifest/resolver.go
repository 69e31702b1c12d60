package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// ErrDependencyCycle is returned when projects depend on each other.
var ErrDependencyCycle = errors.New("dependency cycle")

// ResolvedDep represents a dependency that has been resolved to a local path.
type ResolvedDep struct {
	Name      string    // dependency name, as written in [dependencies]
	LocalPath string    // local filesystem path
	Package   string    // package name other projects import
	Manifest  *Manifest // the dependency's manifest, synthesized for plain directories
}

// Resolver manages dependency resolution.
type Resolver struct {
	manifest *Manifest

	resolved map[string]*ResolvedDep // by absolute path
	visiting map[string]bool
}

// NewResolver creates a new dependency resolver.
func NewResolver(m *Manifest) *Resolver {
	return &Resolver{manifest: m}
}

// Resolve resolves all dependencies and returns them in build order
// (topologically sorted: dependencies before dependents). A project
// reached through several paths appears once.
func (r *Resolver) Resolve() ([]ResolvedDep, error) {
	r.resolved = make(map[string]*ResolvedDep)
	r.visiting = map[string]bool{r.manifest.Dir: true}
	return r.resolveAll(r.manifest)
}

// resolveAll resolves the dependencies of m recursively. Names are
// visited in sorted order so the result does not depend on map order.
func (r *Resolver) resolveAll(m *Manifest) ([]ResolvedDep, error) {
	names := make([]string, 0, len(m.Dependencies))
	for name := range m.Dependencies {
		names = append(names, name)
	}
	sort.Strings(names)

	var order []ResolvedDep
	for _, name := range names {
		rd, err := r.resolveOne(m, name, m.Dependencies[name])
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", name, err)
		}
		if _, ok := r.resolved[rd.LocalPath]; ok {
			continue // already resolved
		}
		if r.visiting[rd.LocalPath] {
			return nil, fmt.Errorf("%w through %s", ErrDependencyCycle, rd.LocalPath)
		}

		// Transitive dependencies come first.
		if len(rd.Manifest.Dependencies) > 0 {
			r.visiting[rd.LocalPath] = true
			transitive, err := r.resolveAll(rd.Manifest)
			delete(r.visiting, rd.LocalPath)
			if err != nil {
				return nil, err
			}
			order = append(order, transitive...)
		}

		r.resolved[rd.LocalPath] = rd
		order = append(order, *rd)
	}
	return order, nil
}

// resolvePackage determines the package name of a dependency: the name
// its own manifest declares, otherwise one derived from the dependency
// name.
func resolvePackage(name string, depManifest *Manifest) (string, error) {
	pkg := DefaultPackageName(name)
	if depManifest != nil && depManifest.Package.Name != "" {
		pkg = depManifest.Package.Name
	}
	if IsReservedPackage(pkg) {
		return "", fmt.Errorf("dependency %q resolves to reserved package name %q", name, pkg)
	}
	return pkg, nil
}

// resolveOne resolves a single path dependency declared by owner.
func (r *Resolver) resolveOne(owner *Manifest, name string, dep Dependency) (*ResolvedDep, error) {
	if dep.Path == "" {
		return nil, fmt.Errorf("dependency %q has no path specified", name)
	}
	localPath := dep.Path
	if !filepath.IsAbs(localPath) {
		localPath = filepath.Join(owner.Dir, localPath)
	}
	localPath, err := filepath.Abs(localPath)
	if err != nil {
		return nil, fmt.Errorf("invalid path %q: %w", dep.Path, err)
	}

	// Verify it exists
	if _, err := os.Stat(localPath); err != nil {
		return nil, fmt.Errorf("local dependency %q not found at %s: %w", name, localPath, err)
	}

	var depManifest *Manifest
	if _, err := os.Stat(filepath.Join(localPath, FileName)); err == nil {
		if depManifest, err = Load(localPath); err != nil {
			return nil, err
		}
	}

	pkg, err := resolvePackage(name, depManifest)
	if err != nil {
		return nil, err
	}
	if depManifest == nil {
		// A plain source directory builds in place.
		depManifest, err = Parse(localPath, []byte(fmt.Sprintf("[package]\nname = %q\n[source]\ndirs = [\".\"]\n", pkg)))
		if err != nil {
			return nil, err
		}
	}
	return &ResolvedDep{
		Name:      name,
		LocalPath: localPath,
		Package:   pkg,
		Manifest:  depManifest,
	}, nil
}
