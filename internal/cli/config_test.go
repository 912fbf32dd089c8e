package cli_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/calvinalkan/habits/internal/cli"
)

func Test_Print_Config_Defaults_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stdout := c.MustRun("print-config")
	cli.AssertContains(t, stdout, "vault_dir="+c.Dir)
	cli.AssertContains(t, stdout, "state_dir="+filepath.Join(c.Dir, ".ht"))
	cli.AssertContains(t, stdout, "(defaults only)")
}

func Test_Print_Config_From_Config_File_With_Comments_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.WriteDoc(".ht.json", `{
		// This is a comment
		"vault_dir": "vault",
		"date_format": "DD.MM.YYYY",
	}`)

	stdout := c.MustRun("print-config")
	cli.AssertContains(t, stdout, "vault_dir="+filepath.Join(c.Dir, "vault"))
	cli.AssertContains(t, stdout, "date_format=DD.MM.YYYY")
	cli.AssertContains(t, stdout, "project_config="+filepath.Join(c.Dir, ".ht.json"))
}

func Test_Print_Config_Vault_Flag_Overrides_File_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.WriteDoc("custom.json", `{"vault_dir": "from-file"}`)

	stdout := c.MustRun("-c", "custom.json", "--vault=from-cli", "print-config")
	cli.AssertContains(t, stdout, "vault_dir="+filepath.Join(c.Dir, "from-cli"))
}

func Test_Config_Explicit_Config_Not_Found_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stderr := c.MustFail("-c", "nonexistent.json", "print-config")
	cli.AssertContains(t, stderr, "config file not found")
}

func Test_Config_Empty_Vault_Via_CLI_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stderr := c.MustFail("--vault=", "print-config")
	cli.AssertContains(t, stderr, "vault_dir cannot be empty")
}

func Test_Missing_Vault_Fails_When_Reading(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stderr := c.MustFail("--vault", "missing", "ls")
	cli.AssertContains(t, stderr, "open vault")
}

func Test_Init_Writes_Config_Once_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stdout := c.MustRun("init")
	cli.AssertContains(t, stdout, "created "+filepath.Join(c.Dir, ".ht.json"))

	_, err := os.Stat(filepath.Join(c.Dir, ".ht.json"))
	if err != nil {
		t.Fatalf("config not written: %v", err)
	}

	_, stderr, code := c.Run("init")
	if code != 1 {
		t.Fatalf("second init exit code = %d, want 1", code)
	}

	cli.AssertContains(t, stderr, "already exists")
}
