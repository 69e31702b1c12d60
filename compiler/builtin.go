package compiler

import (
	_ "embed"
	"fmt"
	"sync"

	"github.com/chazu/vavoomc/vm"
)

//go:embed builtin/object.vc
var objectSource string

var (
	builtinOnce sync.Once
	builtinPkg  *vm.Package
	builtinErr  error
)

// Builtin returns the package declaring Object and its natives. It is
// compiled once and shared by every compilation and machine.
func Builtin() (*vm.Package, error) {
	builtinOnce.Do(func() {
		pkg, _, err := Compile(Options{Package: BuiltinPackage, NoBuiltin: true},
			Source{Name: "object.vc", Text: objectSource})
		if err != nil {
			builtinErr = fmt.Errorf("builtin package: %w", err)
			return
		}
		builtinPkg = pkg
	})
	return builtinPkg, builtinErr
}
