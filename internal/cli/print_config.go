package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/habits/internal/config"
)

// PrintConfigCmd returns the print-config command.
func PrintConfigCmd(cfg *config.Config) *Command {
	return &Command{
		Flags: flag.NewFlagSet("print-config", flag.ContinueOnError),
		Usage: "print-config",
		Short: "Show resolved configuration",
		Long:  "Display the effective configuration and which files it was loaded from.",
		Exec: func(_ context.Context, io *IO, _ []string) error {
			return execPrintConfig(io, cfg)
		},
	}
}

func execPrintConfig(io *IO, cfg *config.Config) error {
	io.Println("effective_cwd=" + cfg.EffectiveCwd)

	for _, line := range cfg.Lines() {
		io.Println(line)
	}

	if cfg.Sources.Global == "" && cfg.Sources.Project == "" {
		io.Println("")
		io.Println("# sources")
		io.Println("(defaults only)")
	}

	return nil
}

// InitCmd returns the init command.
func InitCmd(cfg *config.Config) *Command {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)

	return &Command{
		Flags: fs,
		Usage: "init",
		Short: "Create " + config.FileName + " and the vault folder",
		Long: "Write a commented default " + config.FileName + " to the working directory " +
			"and create the configured vault folder. Fails if the config file exists.",
		Exec: func(_ context.Context, io *IO, _ []string) error {
			return execInit(io, cfg)
		},
	}
}

func execInit(io *IO, cfg *config.Config) error {
	path := filepath.Join(cfg.EffectiveCwd, config.FileName)

	err := config.WriteDefault(path)
	if err != nil {
		if errors.Is(err, config.ErrConfigExists) {
			io.Warn(path+" already exists", "edit it instead")

			return nil
		}

		return err
	}

	io.Println("created", path)

	vault := filepath.Join(cfg.EffectiveCwd, config.Default().VaultDir)

	err = os.MkdirAll(vault, 0o755)
	if err != nil {
		return fmt.Errorf("create vault %s: %w", vault, err)
	}

	return nil
}
