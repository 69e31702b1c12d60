package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"unicode"

	"github.com/chazu/vavoomc/vm"
)

// handleRunCommand processes the `vcc run` subcommand: it builds the
// project, then calls a method with arguments parsed from the command
// line. The method defaults to the manifest's entry point.
func handleRunCommand(args []string, verbose bool) error {
	dir := "."
	if len(args) >= 2 && args[0] == "-C" {
		dir = args[1]
		args = args[2:]
	}
	m, err := loadProject(dir)
	if err != nil {
		return err
	}

	entry := m.Package.Entry
	if len(args) > 0 && isEntryName(args[0]) {
		entry, args = args[0], args[1:]
	}
	if entry == "" {
		return errors.New("no method given and the manifest has no [package] entry")
	}

	pkg, b, err := buildProject(m, os.Stderr, verbose)
	if err != nil {
		return err
	}
	defer b.Close()

	mach := vm.NewMachine()
	if err := mach.Link(pkg); err != nil {
		return err
	}
	result, err := runEntry(mach, pkg, entry, args)
	if err != nil {
		return err
	}
	if len(result) > 0 {
		fmt.Println(formatResult(result))
	}
	return nil
}

// isEntryName reports whether s looks like Class.Method rather than a
// numeric argument.
func isEntryName(s string) bool {
	class, method, ok := strings.Cut(s, ".")
	return ok && class != "" && method != "" && !unicode.IsDigit(rune(s[0])) && s[0] != '-'
}

// runEntry calls the method named "Class.Method" in pkg. An instance
// method runs on a freshly spawned object.
func runEntry(mach *vm.Machine, pkg *vm.Package, entry string, args []string) ([]vm.Value, error) {
	className, methodName, ok := strings.Cut(entry, ".")
	if !ok {
		return nil, fmt.Errorf("entry point %q is not Class.Method", entry)
	}
	cls := pkg.FindClass(className)
	if cls == nil {
		return nil, fmt.Errorf("no class %s in package %s", className, pkg.Name)
	}
	method := cls.FindMethod(methodName)
	if method == nil {
		return nil, fmt.Errorf("no method %s in class %s", methodName, className)
	}

	var slots []vm.Value
	if !method.IsStatic() {
		self, err := mach.Spawn(cls)
		if err != nil {
			return nil, err
		}
		slots = append(slots, vm.RefValue(self))
	}
	if len(args) > len(method.Params) {
		return nil, fmt.Errorf("%s takes %d arguments, got %d", entry, len(method.Params), len(args))
	}
	for i, p := range method.Params {
		if i >= len(args) {
			if p.Flags&vm.ParamOptional == 0 {
				return nil, fmt.Errorf("%s: missing argument %s", entry, p.Name)
			}
			slots = append(slots, vm.ZeroSlots(p.Type)...)
			continue
		}
		if p.Flags&(vm.ParamOut|vm.ParamRef) != 0 {
			return nil, fmt.Errorf("%s: cannot pass %s by reference from the command line", entry, p.Name)
		}
		v, err := parseArg(p.Type, args[i])
		if err != nil {
			return nil, fmt.Errorf("%s: argument %s: %w", entry, p.Name, err)
		}
		slots = append(slots, v)
	}
	return mach.Call(method, slots...)
}

// parseArg converts a command-line argument into a value of type t.
func parseArg(t vm.FieldType, s string) (vm.Value, error) {
	switch t.Kind {
	case vm.TypeInt, vm.TypeByte:
		n, err := strconv.ParseInt(s, 0, 32)
		if err != nil {
			return vm.Value{}, err
		}
		if t.Kind == vm.TypeByte {
			n &= 0xff
		}
		return vm.IntValue(int32(n)), nil
	case vm.TypeFloat:
		f, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return vm.Value{}, err
		}
		return vm.FloatValue(float32(f)), nil
	case vm.TypeBool:
		v, err := strconv.ParseBool(s)
		if err != nil {
			return vm.Value{}, err
		}
		return vm.BoolValue(v), nil
	case vm.TypeString:
		return vm.StringValue(s), nil
	case vm.TypeName:
		if strings.EqualFold(s, "none") {
			s = ""
		}
		return vm.NameValue(s), nil
	}
	return vm.Value{}, fmt.Errorf("type %s cannot be given on the command line", t)
}

func formatResult(slots []vm.Value) string {
	if len(slots) == 1 {
		return slots[0].String()
	}
	parts := make([]string, len(slots))
	for i, v := range slots {
		parts[i] = v.String()
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
