package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/habits/internal/config"
)

const shellPrompt = "ht> "

// ShellCmd returns the shell command.
func ShellCmd(a *app, cfg *config.Config) *Command {
	return &Command{
		Flags: flag.NewFlagSet("shell", flag.ContinueOnError),
		Usage: "shell",
		Short: "Interactive prompt for running commands",
		Long: "Start an interactive prompt. Every command is available without the \"ht\" prefix. " +
			"External edits to the vault are picked up while the shell runs. Type \"exit\" to quit.",
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			return execShell(ctx, o, a, cfg)
		},
	}
}

// lineReader is satisfied by liner on a terminal and by a plain scanner
// otherwise.
type lineReader interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
	Close() error
}

type scanReader struct {
	scanner *bufio.Scanner
	out     io.Writer
}

func (s *scanReader) Prompt(prompt string) (string, error) {
	_, _ = fmt.Fprint(s.out, prompt)

	if !s.scanner.Scan() {
		if err := s.scanner.Err(); err != nil {
			return "", err
		}

		return "", io.EOF
	}

	return s.scanner.Text(), nil
}

func (*scanReader) AppendHistory(string) {}
func (*scanReader) Close() error        { return nil }

type linerReader struct {
	*liner.State
	history string
}

func (l *linerReader) Close() error {
	if l.history != "" {
		if f, err := os.Create(l.history); err == nil {
			_, _ = l.WriteHistory(f)
			_ = f.Close()
		}
	}

	return l.State.Close()
}

func newLineReader(o *IO, cfg *config.Config, names []string) lineReader {
	if f, ok := o.in.(*os.File); ok && f == os.Stdin && liner.TerminalSupported() {
		state := liner.NewLiner()
		state.SetCtrlCAborts(true)
		state.SetCompleter(func(line string) []string {
			var out []string

			for _, n := range names {
				if strings.HasPrefix(n, line) {
					out = append(out, n)
				}
			}

			return out
		})

		history := filepath.Join(cfg.StateDirAbs, "history")
		if f, err := os.Open(history); err == nil {
			_, _ = state.ReadHistory(f)
			_ = f.Close()
		}

		if err := os.MkdirAll(cfg.StateDirAbs, 0o750); err != nil {
			history = ""
		}

		return &linerReader{State: state, history: history}
	}

	in := o.in
	if in == nil {
		in = strings.NewReader("")
	}

	return &scanReader{scanner: bufio.NewScanner(in), out: o.out}
}

func execShell(ctx context.Context, o *IO, a *app, cfg *config.Config) error {
	if _, err := a.Tracker(ctx); err != nil {
		return err
	}

	if _, err := a.StartWatcher(ctx); err != nil {
		o.Warn("file watching unavailable", err.Error())
	}

	var names []string

	for _, cmd := range commands(nil, cfg) {
		if n := cmd.Name(); n != "shell" && n != "watch" {
			names = append(names, n)
		}
	}

	r := newLineReader(o, cfg, names)

	defer func() { _ = r.Close() }()

	for ctx.Err() == nil {
		line, err := r.Prompt(shellPrompt)
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				o.Println()

				return nil
			}

			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		r.AppendHistory(line)

		fields := strings.Fields(line)

		switch fields[0] {
		case "exit", "quit", "q":
			return nil
		case "help", "?":
			for _, cmd := range commands(nil, cfg) {
				if n := cmd.Name(); n != "shell" && n != "watch" {
					o.Println(cmd.HelpLine())
				}
			}

			continue
		case "shell", "watch":
			o.ErrPrintln("error:", fields[0], "is not available inside the shell")

			continue
		}

		_ = dispatch(ctx, o, a, cfg, fields)
	}

	return nil
}
