package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	flag "github.com/spf13/pflag"
)

var errUsage = errors.New("wrong number of arguments")

// Command defines a CLI command with unified help generation.
type Command struct {
	// Flags defines command-specific flags.
	// The FlagSet name is not used - command identity comes from Usage.
	Flags *flag.FlagSet

	// Usage is the freeform usage string shown after "ht" in help.
	// Includes the command name and arguments/flags.
	// Examples: "get <doc> [date]", "stats <doc> [flags]"
	Usage string

	// Short is a one-line description for the global help listing.
	Short string

	// Long is the full description shown in command help.
	// If empty, Short is used instead.
	Long string

	// MinArgs and MaxArgs bound the positional arguments. MaxArgs < 0
	// means unbounded.
	MinArgs int
	MaxArgs int

	// Exec runs the command after flags are parsed.
	Exec func(ctx context.Context, o *IO, args []string) error
}

// Name returns the command name (first word of Usage).
func (c *Command) Name() string {
	name, _, _ := strings.Cut(c.Usage, " ")
	return name
}

// HelpLine returns the short help line for the main usage display.
func (c *Command) HelpLine() string {
	return fmt.Sprintf("  %-28s %s", c.Usage, c.Short)
}

// PrintHelp writes the full help output for "ht <cmd> --help" to w.
func (c *Command) PrintHelp(w io.Writer) {
	fprintln(w, "Usage: ht", c.Usage)
	fprintln(w)

	desc := c.Long
	if desc == "" {
		desc = c.Short
	}

	fprintln(w, desc)

	if c.Flags != nil && c.Flags.HasFlags() {
		fprintln(w)
		fprintln(w, "Flags:")

		var buf strings.Builder
		c.Flags.SetOutput(&buf)
		c.Flags.PrintDefaults()
		fprintf(w, "%s", buf.String())
	}
}

// Run parses flags and executes the command. Returns exit code.
// Handles error printing internally for consistent output ordering.
func (c *Command) Run(ctx context.Context, o *IO, args []string) int {
	if c.Flags == nil {
		c.Flags = flag.NewFlagSet(c.Name(), flag.ContinueOnError)
	}

	c.Flags.SetOutput(&strings.Builder{}) // discard pflag output

	err := c.Flags.Parse(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			c.PrintHelp(o.out)
			return 0
		}
		o.ErrPrintln("error:", err)
		o.ErrPrintln()
		c.PrintHelp(o.errOut)
		return 1
	}

	rest := c.Flags.Args()
	if len(rest) < c.MinArgs || (c.MaxArgs >= 0 && len(rest) > c.MaxArgs) {
		o.ErrPrintln("error:", errUsage)
		o.ErrPrintln()
		c.PrintHelp(o.errOut)
		return 1
	}

	if err := c.Exec(ctx, o, rest); err != nil {
		o.ErrPrintln("error:", err)
		return 1
	}

	return o.Finish()
}
