package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chazu/vavoomc/compiler"
	"github.com/chazu/vavoomc/vm"
)

// handleDisasmCommand processes the `vcc disasm` subcommand.
// Usage:
//
//	vcc disasm game.vcp             # every class
//	vcc disasm game.vcp Actor       # one class
//	vcc disasm game.vcp Actor.Tick  # one method
//
// Imports are looked up next to the package file.
func handleDisasmCommand(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: vcc disasm <file.vcp> [Class[.Method]]")
	}
	loader := vm.NewPackageLoader(vm.DirSource{Paths: []string{filepath.Dir(args[0])}})
	builtin, err := compiler.Builtin()
	if err != nil {
		return err
	}
	loader.Register(builtin)

	pkg, err := vm.LoadPackageFile(args[0], loader)
	if err != nil {
		return err
	}
	filter := ""
	if len(args) > 1 {
		filter = args[1]
	}
	return disassemblePackage(os.Stdout, pkg, filter)
}

// disassemblePackage writes the methods and state tables of pkg. filter
// selects a class or a Class.Method; empty selects everything.
func disassemblePackage(w io.Writer, pkg *vm.Package, filter string) error {
	className, methodName, _ := strings.Cut(filter, ".")
	fmt.Fprintf(w, "package %s (build %s)\n", pkg.Name, pkg.BuildID)

	found := false
	for _, c := range pkg.Classes {
		if className != "" && !strings.EqualFold(c.Name, className) {
			continue
		}
		found = true
		if c.ParentName != "" {
			fmt.Fprintf(w, "\nclass %s : %s\n", c.Name, c.ParentName)
		} else {
			fmt.Fprintf(w, "\nclass %s\n", c.Name)
		}
		for _, m := range c.Methods {
			if methodName != "" && !strings.EqualFold(m.Name, methodName) {
				continue
			}
			disassembleMethod(w, pkg, m)
		}
		if methodName == "" {
			disassembleStates(w, c)
		}
	}
	if !found && className != "" {
		return fmt.Errorf("no class %s in package %s", className, pkg.Name)
	}
	return nil
}

func disassembleMethod(w io.Writer, pkg *vm.Package, m *vm.Method) {
	var flags []string
	if m.IsStatic() {
		flags = append(flags, "static")
	}
	if m.IsNative() {
		flags = append(flags, "native")
	}
	if m.VTableIndex >= 0 {
		flags = append(flags, fmt.Sprintf("vtable %d", m.VTableIndex))
	}
	fmt.Fprintf(w, "  %s %s: params %d, locals %d", m.ReturnType, m.Name, m.ParamsSize, m.NumLocals)
	if len(flags) > 0 {
		fmt.Fprintf(w, " [%s]", strings.Join(flags, ", "))
	}
	fmt.Fprintln(w)
	if len(m.Code) == 0 {
		return
	}
	for _, line := range strings.Split(vm.Disassemble(m.Code, pkg), "\n") {
		fmt.Fprintf(w, "    %s\n", line)
	}
}

func disassembleStates(w io.Writer, c *vm.Class) {
	if len(c.States) == 0 {
		return
	}
	fmt.Fprintln(w, "  states:")
	labels := make(map[*vm.State][]string)
	for _, l := range c.Labels {
		labels[l.State] = append(labels[l.State], l.Name)
	}
	for _, s := range c.States {
		for _, name := range labels[s] {
			fmt.Fprintf(w, "   %s:\n", name)
		}
		next := "stop"
		if s.NextState != nil {
			next = s.NextState.Name
		}
		action := ""
		if s.Function != nil {
			action = " " + s.Function.Name
		}
		fmt.Fprintf(w, "    %-8s %s %c %g%s -> %s\n", s.Name, s.SpriteName, s.FrameChar(), s.Time, action, next)
	}
}
