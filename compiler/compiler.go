package compiler

import (
	"github.com/tliron/commonlog"

	"github.com/chazu/vavoomc/vm"
)

// ---------------------------------------------------------------------------
// Compiler: drives parsing, definition and emission of one package
// ---------------------------------------------------------------------------

// BuiltinPackage is the name of the package that declares Object. Every
// other package imports it implicitly.
const BuiltinPackage = "builtin"

// Source is one file of a compilation.
type Source struct {
	Name string
	Text string
}

// Options configure a compilation.
type Options struct {
	// Package names the package being built.
	Package string
	// Loader resolves import declarations. When nil a loader knowing only
	// the builtin package is used.
	Loader *vm.PackageLoader
	// NoBuiltin skips the implicit builtin import. It is set when the
	// builtin package itself is compiled.
	NoBuiltin bool
}

// constState tracks lazy evaluation of a constant declared in the unit.
type constState uint8

const (
	constPending constState = iota
	constBusy
	constDone
	constFailed
)

type constEntry struct {
	decl  *ConstDecl
	state constState
}

// Compiler builds one package from source. It is not safe for concurrent
// use; create one per package.
type Compiler struct {
	opts  Options
	pkg   *vm.Package
	diags *Diagnostics
	units []*Unit

	consts map[*vm.Constant]*constEntry
	// classes lists every declared class, parents before children once
	// linkParents has run.
	classes []*ClassDecl

	log commonlog.Logger
}

// New creates a compiler for an empty package.
func New(opts Options) *Compiler {
	if opts.Package == "" {
		opts.Package = "main"
	}
	return &Compiler{
		opts:   opts,
		pkg:    vm.NewPackage(opts.Package),
		diags:  NewDiagnostics(),
		consts: make(map[*vm.Constant]*constEntry),
		log:    commonlog.GetLogger("vavoomc.compiler"),
	}
}

// Package returns the package under construction.
func (c *Compiler) Package() *vm.Package { return c.pkg }

// Diagnostics returns the errors and warnings recorded so far.
func (c *Compiler) Diagnostics() *Diagnostics { return c.diags }

// AddSource parses src and declares its members in the package.
func (c *Compiler) AddSource(src Source) {
	p := NewParser(src.Name, src.Text, c.pkg, c.diags)
	unit := p.Parse()
	c.units = append(c.units, unit)
	for _, cd := range unit.Consts {
		c.consts[cd.Const] = &constEntry{decl: cd}
	}
	for _, cd := range unit.Classes {
		for _, k := range cd.Consts {
			c.consts[k.Const] = &constEntry{decl: k}
		}
	}
	c.log.Debugf("parsed %s: %d classes", src.Name, len(unit.Classes))
}

// Compile runs the definition and emission passes over every added
// source. The package is returned even when errors were found, so tools
// can inspect what was built; err is a *CompileError in that case.
func (c *Compiler) Compile() (pkg *vm.Package, err error) {
	defer func() {
		if r := recover(); r != nil {
			ie, ok := r.(*internalError)
			if !ok {
				panic(r)
			}
			c.log.Errorf("%s", ie)
			c.diags.Errorf(vm.Location{File: c.pkg.Name}, "%s", ie)
			pkg, err = c.pkg, c.diags.Err()
		}
	}()

	// Parse errors leave incomplete trees behind; stop before resolving.
	if c.diags.HasErrors() {
		return c.pkg, c.diags.Err()
	}
	c.resolveImports()
	if c.diags.HasErrors() {
		return c.pkg, c.diags.Err()
	}
	c.define()
	c.log.Infof("compiled package %s: %d errors", c.pkg.Name, c.diags.ErrorCount())
	return c.pkg, c.diags.Err()
}

// Compile builds a package from sources in one call.
func Compile(opts Options, sources ...Source) (*vm.Package, *Diagnostics, error) {
	c := New(opts)
	for _, src := range sources {
		c.AddSource(src)
	}
	pkg, err := c.Compile()
	return pkg, c.diags, err
}

// ---------------------------------------------------------------------------
// Imports
// ---------------------------------------------------------------------------

func (c *Compiler) loader() (*vm.PackageLoader, error) {
	if c.opts.Loader != nil {
		return c.opts.Loader, nil
	}
	l := vm.NewPackageLoader(nil)
	if !c.opts.NoBuiltin {
		b, err := Builtin()
		if err != nil {
			return nil, err
		}
		l.Register(b)
	}
	c.opts.Loader = l
	return l, nil
}

// resolveImports loads the builtin package and every imported package.
func (c *Compiler) resolveImports() {
	l, err := c.loader()
	if err != nil {
		c.diags.Errorf(vm.Location{File: c.pkg.Name}, "%v", err)
		return
	}
	add := func(name string, loc vm.Location) {
		if name == c.pkg.Name {
			c.diags.Errorf(loc, "Package `%s` cannot import itself", name)
			return
		}
		for _, imp := range c.pkg.Imports {
			if imp.Name == name {
				return
			}
		}
		imp, err := l.Load(name)
		if err != nil {
			c.diags.Errorf(loc, "Cannot import `%s`: %v", name, err)
			return
		}
		c.pkg.Imports = append(c.pkg.Imports, imp)
	}
	if !c.opts.NoBuiltin {
		if _, ok := l.Lookup(BuiltinPackage); !ok {
			b, err := Builtin()
			if err != nil {
				c.diags.Errorf(vm.Location{File: c.pkg.Name}, "%v", err)
				return
			}
			l.Register(b)
		}
		add(BuiltinPackage, vm.Location{File: c.pkg.Name})
	}
	for _, u := range c.units {
		for _, imp := range u.Imports {
			add(imp.Name, imp.Loc)
		}
	}
}

// ---------------------------------------------------------------------------
// Constants
// ---------------------------------------------------------------------------

// defineConstant evaluates k on first use. Constants of imported
// packages are already defined. A constant whose value depends on itself
// is an error.
func (c *Compiler) defineConstant(k *vm.Constant, loc vm.Location) bool {
	ent, ok := c.consts[k]
	if !ok {
		return true
	}
	switch ent.state {
	case constDone:
		return true
	case constFailed:
		return false
	case constBusy:
		c.diags.Errorf(loc, "Constant `%s` depends on itself", k.Name)
		ent.state = constFailed
		return false
	}
	ent.state = constBusy
	if c.evalConstant(ent.decl) {
		// A cycle found further down has already marked the entry.
		if ent.state == constBusy {
			ent.state = constDone
		}
	} else {
		ent.state = constFailed
	}
	return ent.state == constDone
}

// evalConstant folds the declared value of d into its constant.
func (c *Compiler) evalConstant(d *ConstDecl) bool {
	k := d.Const
	k.Type = vm.NewType(d.Kind)

	if d.Value == nil {
		// Enum member without a value: one past its predecessor.
		if d.Prev == nil {
			k.IntValue = 0
			return true
		}
		if !c.defineConstant(d.Prev.Const, k.Location) {
			return false
		}
		k.IntValue = d.Prev.Const.IntValue + 1
		return true
	}

	ec := NewEmitContext(c, d.Owner, nil)
	e := d.Value.Resolve(ec)
	if e == nil {
		return false
	}
	switch d.Kind {
	case vm.TypeInt:
		lit, ok := e.(*IntLiteral)
		if !ok {
			c.diags.Errorf(e.Loc(), "Integer constant expected")
			return false
		}
		k.IntValue = lit.Value
	case vm.TypeFloat:
		switch lit := e.(type) {
		case *FloatLiteral:
			k.FloatValue = lit.Value
		case *IntLiteral:
			k.FloatValue = float32(lit.Value)
		default:
			c.diags.Errorf(e.Loc(), "Float constant expected")
			return false
		}
	case vm.TypeName:
		lit, ok := e.(*NameLiteral)
		if !ok {
			c.diags.Errorf(e.Loc(), "Name constant expected")
			return false
		}
		k.StrValue = lit.Value
	case vm.TypeString:
		lit, ok := e.(*StringLiteral)
		if !ok {
			c.diags.Errorf(e.Loc(), "String constant expected")
			return false
		}
		k.StrValue = lit.Value
	default:
		internalf("constant %s of kind %s", k.Name, d.Kind)
	}
	return true
}

// evalIntConst folds e to an integer in the scope of cls, for array
// dimensions.
func (c *Compiler) evalIntConst(e Expression, cls *vm.Class) (int32, bool) {
	ec := NewEmitContext(c, cls, nil)
	r := e.Resolve(ec)
	if r == nil {
		return 0, false
	}
	lit, ok := r.(*IntLiteral)
	if !ok {
		c.diags.Errorf(e.Loc(), "Integer constant expected")
		return 0, false
	}
	return lit.Value, true
}
