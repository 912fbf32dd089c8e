package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/habits/internal/config"
)

// Run is the main entry point. Returns exit code. A value on sigCh cancels
// the running command.
func Run(in io.Reader, out io.Writer, errOut io.Writer, args []string, env map[string]string, sigCh <-chan os.Signal) int {
	o := NewIO(in, out, errOut)

	globals := flag.NewFlagSet("ht", flag.ContinueOnError)
	globals.SetInterspersed(false)
	globals.SetOutput(&strings.Builder{})

	workDir := globals.StringP("cwd", "C", "", "Run as if started in `dir`")
	configPath := globals.StringP("config", "c", "", "Use the specified config `file`")
	vaultDir := globals.String("vault", "", "Override the vault `dir`")
	dateFormat := globals.String("date-format", "", "Override the display date `format`")
	verbose := globals.BoolP("verbose", "v", false, "Log debug output to stderr")
	help := globals.BoolP("help", "h", false, "Show help")

	if len(args) > 0 {
		args = args[1:]
	}

	err := globals.Parse(args)
	if err != nil {
		o.ErrPrintln("error:", err)
		printUsage(o.errOut, globals, nil)

		return 1
	}

	rest := globals.Args()
	if *help || len(rest) == 0 {
		printUsage(o.out, globals, commands(nil, &config.Config{}))

		return 0
	}

	input := config.LoadInput{
		WorkDirOverride:    *workDir,
		ConfigPath:         *configPath,
		DateFormatOverride: *dateFormat,
		Env:                env,
	}

	if globals.Changed("vault") {
		input.VaultDirOverride = vaultDir
	}

	cfg, err := config.Load(input)
	if err != nil {
		o.ErrPrintln("error:", err)

		return 1
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}

	a := newApp(cfg, slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: level})))

	defer func() {
		if err := a.Close(); err != nil {
			o.ErrPrintln("error:", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	return dispatch(ctx, o, a, &cfg, rest)
}

var errUnknownCommand = errors.New("unknown command")

func dispatch(ctx context.Context, o *IO, a *app, cfg *config.Config, args []string) int {
	for _, cmd := range commands(a, cfg) {
		if cmd.Name() == args[0] {
			return cmd.Run(ctx, o, args[1:])
		}
	}

	o.ErrPrintln("error:", errUnknownCommand.Error()+":", args[0])

	return 1
}

// commands returns fresh command values; flag sets keep state after parsing,
// so the shell builds a new set for every line.
func commands(a *app, cfg *config.Config) []*Command {
	return []*Command{
		InitCmd(cfg),
		PrintConfigCmd(cfg),
		LsCmd(a),
		GetCmd(a),
		SetCmd(a),
		UnsetCmd(a),
		EntriesCmd(a),
		ConfigCmd(a),
		StatsCmd(a),
		ReindexCmd(a),
		DayCmd(a),
		WatchCmd(a),
		ShellCmd(a, cfg),
	}
}

func printUsage(w io.Writer, globals *flag.FlagSet, cmds []*Command) {
	fprintln(w, `ht - habit and metric tracker

Usage: ht [options] <command> [args]

Options:`)

	var buf strings.Builder
	globals.SetOutput(&buf)
	globals.PrintDefaults()
	globals.SetOutput(&strings.Builder{})
	fprintf(w, "%s", buf.String())

	if len(cmds) == 0 {
		return
	}

	fprintln(w)
	fprintln(w, "Commands:")

	for _, cmd := range cmds {
		fprintln(w, cmd.HelpLine())
	}
}
