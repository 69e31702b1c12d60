// vcc - the VavoomC compiler driver: builds projects, runs entry points and
// disassembles compiled packages.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
)

var (
	errorColor   = color.New(color.FgRed, color.Bold).SprintFunc()
	warningColor = color.New(color.FgYellow, color.Bold).SprintFunc()
	noteColor    = color.New(color.FgCyan).SprintFunc()
)

func main() {
	verbose := flag.Bool("v", false, "Verbose output")
	debug := flag.Bool("debug", false, "Log compiler and VM internals")
	noColor := flag.Bool("no-color", false, "Disable colored output")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: vcc [options] <command> [arguments]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  build [dir]                      Build the project containing dir\n")
		fmt.Fprintf(os.Stderr, "  run [-C dir] [Class.Method] [args...]  Build, then run a static method\n")
		fmt.Fprintf(os.Stderr, "  disasm <file.vcp> [Class[.Method]]     Disassemble a compiled package\n")
		fmt.Fprintf(os.Stderr, "  cache purge|drop <package> [dir]       Manage the build cache\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  vcc build                  # Build ./vcc.toml\n")
		fmt.Fprintf(os.Stderr, "  vcc run Main.Run 3         # Run Main.Run(3)\n")
		fmt.Fprintf(os.Stderr, "  vcc disasm game.vcp Actor  # Disassemble class Actor\n")
	}
	flag.Parse()

	if *noColor {
		color.NoColor = true
	}
	switch {
	case *debug:
		commonlog.Configure(2, nil)
	case *verbose:
		commonlog.Configure(1, nil)
	default:
		// Failures are reported on stderr by the commands themselves.
		commonlog.Configure(-4, nil)
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	var err error
	switch args[0] {
	case "build":
		err = handleBuildCommand(args[1:], *verbose)
	case "run":
		err = handleRunCommand(args[1:], *verbose)
	case "disasm":
		err = handleDisasmCommand(args[1:])
	case "cache":
		err = handleCacheCommand(args[1:])
	case "help":
		flag.Usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", errorColor("error:"), err)
		os.Exit(1)
	}
}
