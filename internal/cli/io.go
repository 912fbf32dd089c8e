package cli

import (
	"fmt"
	"io"
)

// IO handles command output. Warnings are collected while a command runs and
// printed to stderr both before the first line of output and again at the
// end, so they stay visible when output is piped through head or tail.
type IO struct {
	in       io.Reader
	out      io.Writer
	errOut   io.Writer
	warnings []string
	started  bool
}

// NewIO creates a new IO instance.
func NewIO(in io.Reader, out, errOut io.Writer) *IO {
	return &IO{in: in, out: out, errOut: errOut}
}

// Warn records a warning made of what went wrong and what to do about it.
// Any warning makes the command exit with code 1. Output still happens.
func (o *IO) Warn(issue string, action string) {
	o.warnings = append(o.warnings, fmt.Sprintf("%s: %s", issue, action))
}

// Println writes to stdout. On first call, any collected warnings
// are printed to stderr first.
func (o *IO) Println(a ...any) {
	o.flushWarningsStart()
	_, _ = fmt.Fprintln(o.out, a...)
}

// Printf writes formatted output to stdout. On first call, any collected
// warnings are printed to stderr first.
func (o *IO) Printf(format string, a ...any) {
	o.flushWarningsStart()
	_, _ = fmt.Fprintf(o.out, format, a...)
}

// ErrPrintln writes to stderr.
func (o *IO) ErrPrintln(a ...any) {
	_, _ = fmt.Fprintln(o.errOut, a...)
}

// Finish prints warnings to stderr and returns exit code.
// Returns 1 if any warnings, 0 otherwise. Warnings are cleared so the IO can
// be reused by the shell.
func (o *IO) Finish() int {
	// If no output happened but we have warnings, print them at "start" position
	o.flushWarningsStart()

	// Always print at end
	for _, w := range o.warnings {
		_, _ = fmt.Fprintln(o.errOut, "warning:", w)
	}

	code := 0
	if len(o.warnings) > 0 {
		code = 1
	}

	o.warnings = nil
	o.started = false

	return code
}

func (o *IO) flushWarningsStart() {
	if !o.started && len(o.warnings) > 0 {
		for _, w := range o.warnings {
			_, _ = fmt.Fprintln(o.errOut, "warning:", w)
		}

		o.started = true
	}
}
