package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/chazu/vavoomc/cache"
	"github.com/chazu/vavoomc/compiler"
	"github.com/chazu/vavoomc/manifest"
	"github.com/chazu/vavoomc/vm"
)

// compilerVersion is mixed into cache keys so that packages built by an
// older compiler are not reused.
const compilerVersion = "vcc/4"

// builder compiles a project and its dependencies into one loader.
type builder struct {
	loader  *vm.PackageLoader
	cache   *cache.Cache
	verbose bool
	out     io.Writer // progress and diagnostics

	// buildIDs of the packages built so far, in build order.
	buildIDs []string
}

// newBuilder creates a builder for the project m. Packages are looked up
// in the output directories of its dependencies and its search paths.
func newBuilder(m *manifest.Manifest, deps []manifest.ResolvedDep, out io.Writer, verbose bool) (*builder, error) {
	var paths []string
	for _, d := range deps {
		paths = append(paths, d.Manifest.OutputDir())
	}
	paths = append(paths, m.SearchPathDirs()...)

	loader := vm.NewPackageLoader(vm.DirSource{Paths: paths})
	builtin, err := compiler.Builtin()
	if err != nil {
		return nil, err
	}
	loader.Register(builtin)

	b := &builder{loader: loader, verbose: verbose, out: out}
	if path := m.CachePath(); path != "" {
		c, err := cache.Open(path)
		if err != nil {
			// A broken cache only costs a rebuild.
			fmt.Fprintf(out, "%s build cache disabled: %v\n", warningColor("warning:"), err)
		} else {
			b.cache = c
		}
	}
	return b, nil
}

func (b *builder) Close() error {
	if b.cache != nil {
		return b.cache.Close()
	}
	return nil
}

// buildProject builds the dependencies of m in order, then m itself.
func buildProject(m *manifest.Manifest, out io.Writer, verbose bool) (*vm.Package, *builder, error) {
	deps, err := manifest.NewResolver(m).Resolve()
	if err != nil {
		return nil, nil, err
	}
	b, err := newBuilder(m, deps, out, verbose)
	if err != nil {
		return nil, nil, err
	}
	for _, d := range deps {
		if _, err := b.buildPackage(d.Manifest); err != nil {
			b.Close()
			return nil, nil, fmt.Errorf("dependency %s: %w", d.Name, err)
		}
	}
	pkg, err := b.buildPackage(m)
	if err != nil {
		b.Close()
		return nil, nil, err
	}
	return pkg, b, nil
}

// buildPackage compiles the sources of m, or reuses the cached package
// when neither they nor the packages built before them changed. The
// result is written to the manifest's output path and registered with
// the loader.
func (b *builder) buildPackage(m *manifest.Manifest) (*vm.Package, error) {
	name := m.Package.Name
	files, err := m.SourceFiles()
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("package %s has no %s files in %v", name, manifest.SourceExt, m.Source.Dirs)
	}

	sources := make([]compiler.Source, 0, len(files))
	inputs := [][]byte{[]byte(compilerVersion)}
	for _, id := range b.buildIDs {
		inputs = append(inputs, []byte(id))
	}
	for _, path := range files {
		text, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		rel, err := filepath.Rel(m.Dir, path)
		if err != nil {
			rel = path
		}
		sources = append(sources, compiler.Source{Name: rel, Text: string(text)})
		inputs = append(inputs, []byte(rel), text)
	}
	key := cache.Key(name, inputs...)

	data, pkg := b.lookup(key, name)
	if pkg == nil {
		var diags *compiler.Diagnostics
		pkg, diags, err = compiler.Compile(compiler.Options{Package: name, Loader: b.loader}, sources...)
		b.report(diags)
		if err != nil {
			var cerr *compiler.CompileError
			if errors.As(err, &cerr) {
				return nil, fmt.Errorf("%s: %d errors", name, len(cerr.Diagnostics))
			}
			return nil, err
		}
		if data, err = vm.MarshalPackage(pkg); err != nil {
			return nil, err
		}
		if b.cache != nil {
			if err := b.cache.Put(key, name, data); err != nil {
				fmt.Fprintf(b.out, "%s %v\n", warningColor("warning:"), err)
			}
		}
		if b.verbose {
			fmt.Fprintf(b.out, "%s %s (%d files)\n", noteColor("compiled"), name, len(files))
		}
	} else if b.verbose {
		fmt.Fprintf(b.out, "%s %s\n", noteColor("cached"), name)
	}

	if err := os.MkdirAll(m.OutputDir(), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(m.OutputPath(), data, 0o644); err != nil {
		return nil, err
	}
	b.loader.Register(pkg)
	b.buildIDs = append(b.buildIDs, pkg.BuildID)
	return pkg, nil
}

// lookup returns the cached package for key, or nils on a miss. Entries
// that no longer decode are ignored.
func (b *builder) lookup(key, name string) ([]byte, *vm.Package) {
	if b.cache == nil {
		return nil, nil
	}
	data, ok, err := b.cache.Get(key)
	if err != nil || !ok {
		return nil, nil
	}
	pkg, err := b.loader.Decode(data)
	if err != nil || pkg.Name != name {
		return nil, nil
	}
	return data, pkg
}

// report prints every diagnostic, colored by severity.
func (b *builder) report(diags *compiler.Diagnostics) {
	if diags == nil {
		return
	}
	for _, d := range diags.List() {
		label := errorColor("error:")
		if d.Severity == compiler.SeverityWarning {
			label = warningColor("warning:")
		}
		fmt.Fprintf(b.out, "%s: %s %s\n", d.Loc, label, d.Message)
	}
}

// loadProject finds the manifest governing dir.
func loadProject(dir string) (*manifest.Manifest, error) {
	m, err := manifest.FindAndLoad(dir)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("no %s found in %s or its parents", manifest.FileName, dir)
	}
	return m, nil
}

// handleBuildCommand processes the `vcc build` subcommand.
// Usage:
//
//	vcc build          # project of the current directory
//	vcc build ./game   # project containing ./game
func handleBuildCommand(args []string, verbose bool) error {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}
	m, err := loadProject(dir)
	if err != nil {
		return err
	}
	pkg, b, err := buildProject(m, os.Stderr, verbose)
	if err != nil {
		return err
	}
	defer b.Close()

	if verbose {
		fmt.Printf("Built %s (%d classes) -> %s\n", pkg.Name, len(pkg.Classes), m.OutputPath())
	}
	return nil
}

// handleCacheCommand processes the `vcc cache` subcommand.
func handleCacheCommand(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: vcc cache purge [dir] | vcc cache drop <package> [dir]")
	}
	dir := "."
	var n int
	run := func(fn func(c *cache.Cache) (int, error)) error {
		m, err := loadProject(dir)
		if err != nil {
			return err
		}
		path := m.CachePath()
		if path == "" {
			return errors.New("the build cache is disabled for this project")
		}
		c, err := cache.Open(path)
		if err != nil {
			return err
		}
		defer c.Close()
		n, err = fn(c)
		return err
	}

	var err error
	switch args[0] {
	case "purge":
		if len(args) > 1 {
			dir = args[1]
		}
		err = run((*cache.Cache).Purge)
	case "drop":
		if len(args) < 2 {
			return errors.New("usage: vcc cache drop <package> [dir]")
		}
		if len(args) > 2 {
			dir = args[2]
		}
		err = run(func(c *cache.Cache) (int, error) { return c.Delete(args[1]) })
	default:
		return fmt.Errorf("unknown cache subcommand: %s", args[0])
	}
	if err != nil {
		return err
	}
	fmt.Printf("Removed %d cache entries\n", n)
	return nil
}
