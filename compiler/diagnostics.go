package compiler

import (
	"fmt"
	"strings"

	"github.com/tliron/commonlog"

	"github.com/chazu/vavoomc/vm"
)

// Severity classifies a diagnostic.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
)

func (s Severity) String() string {
	if s == SeverityWarning {
		return "warning"
	}
	return "error"
}

// Diagnostic is one compiler message tied to a source location.
type Diagnostic struct {
	Loc      vm.Location
	Severity Severity
	Message  string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: %s: %s", d.Loc, d.Severity, d.Message)
}

// Diagnostics collects the messages of one compilation. Errors are data:
// resolution records them here and carries on.
type Diagnostics struct {
	list   []Diagnostic
	errors int
	log    commonlog.Logger
}

// NewDiagnostics creates an empty sink.
func NewDiagnostics() *Diagnostics {
	return &Diagnostics{log: commonlog.GetLogger("vavoomc.compiler")}
}

// Errorf records an error at loc.
func (d *Diagnostics) Errorf(loc vm.Location, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	d.list = append(d.list, Diagnostic{Loc: loc, Severity: SeverityError, Message: msg})
	d.errors++
	d.log.Debugf("%s: error: %s", loc, msg)
}

// Warnf records a warning at loc.
func (d *Diagnostics) Warnf(loc vm.Location, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	d.list = append(d.list, Diagnostic{Loc: loc, Severity: SeverityWarning, Message: msg})
	d.log.Debugf("%s: warning: %s", loc, msg)
}

// ErrorCount returns the number of errors recorded so far.
func (d *Diagnostics) ErrorCount() int { return d.errors }

// HasErrors reports whether any error was recorded.
func (d *Diagnostics) HasErrors() bool { return d.errors > 0 }

// List returns every diagnostic in the order it was recorded.
func (d *Diagnostics) List() []Diagnostic { return d.list }

// Err returns a *CompileError when errors were recorded, nil otherwise.
func (d *Diagnostics) Err() error {
	if d.errors == 0 {
		return nil
	}
	var errs []Diagnostic
	for _, diag := range d.list {
		if diag.Severity == SeverityError {
			errs = append(errs, diag)
		}
	}
	return &CompileError{Diagnostics: errs}
}

// CompileError is returned when a compilation unit fails. It carries
// every error diagnostic that was collected.
type CompileError struct {
	Diagnostics []Diagnostic
}

func (e *CompileError) Error() string {
	if len(e.Diagnostics) == 1 {
		return e.Diagnostics[0].String()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d errors:", len(e.Diagnostics))
	for _, d := range e.Diagnostics {
		sb.WriteString("\n\t")
		sb.WriteString(d.String())
	}
	return sb.String()
}

// internalError is raised for broken compiler invariants. It unwinds to
// the compile driver, which reports it as a fatal diagnostic.
type internalError struct {
	msg string
}

func (e *internalError) Error() string { return "internal compiler error: " + e.msg }

func internalf(format string, args ...any) {
	panic(&internalError{msg: fmt.Sprintf(format, args...)})
}
