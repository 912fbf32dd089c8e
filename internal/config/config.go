// Package config loads the ht configuration from JSONC files and CLI
// overrides.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/natefinch/atomic"
	"github.com/tailscale/hujson"

	"github.com/calvinalkan/habits/pkg/dates"
)

// Errors returned by [Load] and [WriteDefault].
var (
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrConfigFileRead     = errors.New("cannot read config file")
	ErrConfigInvalid      = errors.New("invalid config file")
	ErrConfigExists       = errors.New("config file already exists")
	ErrVaultDirEmpty      = errors.New("vault_dir cannot be empty")
	ErrDateFormatEmpty    = errors.New("date_format cannot be empty")
	ErrCacheTTLInvalid    = errors.New("cache_ttl must be a positive duration")
	ErrCacheMaxInvalid    = errors.New("cache_max_entries must be positive")
)

// FileName is the project config file looked up in the working directory.
const FileName = ".ht.json"

// Config holds all configuration options.
type Config struct {
	// From config files (serialized)
	VaultDir        string `json:"vault_dir"`
	DateFormat      string `json:"date_format"`
	CacheTTL        string `json:"cache_ttl"`
	CacheMaxEntries int    `json:"cache_max_entries"`
	StateDir        string `json:"state_dir"`
	Index           *bool  `json:"index,omitempty"`

	// Resolved (computed, not serialized)
	EffectiveCwd string        `json:"-"`
	VaultDirAbs  string        `json:"-"`
	StateDirAbs  string        `json:"-"`
	TTL          time.Duration `json:"-"`

	// Sources tracks which config files were loaded (for diagnostics)
	Sources Sources `json:"-"`
}

// Sources tracks which config files were loaded.
type Sources struct {
	Global  string // Path to global config if loaded, empty otherwise
	Project string // Path to project or explicit config if loaded, empty otherwise
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		VaultDir:        ".",
		DateFormat:      string(dates.ISO),
		CacheTTL:        "5m",
		CacheMaxEntries: 500,
		StateDir:        ".ht",
	}
}

// IndexEnabled reports whether the SQLite index is maintained. It defaults
// to true.
func (c Config) IndexEnabled() bool {
	return c.Index == nil || *c.Index
}

// Format returns the display date format.
func (c Config) Format() dates.Format {
	return dates.Format(c.DateFormat)
}

// IndexPath is the SQLite index file inside the state directory.
func (c Config) IndexPath() string {
	return filepath.Join(c.StateDirAbs, "index.sqlite")
}

// BirthsPath records the first-seen creation time of each document.
func (c Config) BirthsPath() string {
	return filepath.Join(c.StateDirAbs, "created.json")
}

// LockDir holds per-document lock files.
func (c Config) LockDir() string {
	return filepath.Join(c.StateDirAbs, "locks")
}

// Lines renders the effective configuration as key=value lines.
func (c Config) Lines() []string {
	return []string{
		"vault_dir=" + c.VaultDirAbs,
		"date_format=" + c.DateFormat,
		"cache_ttl=" + c.TTL.String(),
		"cache_max_entries=" + strconv.Itoa(c.CacheMaxEntries),
		"state_dir=" + c.StateDirAbs,
		"index=" + strconv.FormatBool(c.IndexEnabled()),
		"global_config=" + c.Sources.Global,
		"project_config=" + c.Sources.Project,
	}
}

// GlobalPath returns the path to the global config file:
// $XDG_CONFIG_HOME/ht/config.json if set, otherwise ~/.config/ht/config.json.
// Returns an empty string if the home directory cannot be determined.
func GlobalPath(env map[string]string) string {
	if xdgConfig := env["XDG_CONFIG_HOME"]; xdgConfig != "" {
		return filepath.Join(xdgConfig, "ht", "config.json")
	}

	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".config", "ht", "config.json")
	}

	return ""
}

// LoadInput holds the inputs for [Load].
type LoadInput struct {
	WorkDirOverride    string            // -C/--cwd flag value; if empty, os.Getwd() is used
	ConfigPath         string            // -c/--config flag value
	VaultDirOverride   *string           // --vault flag value; nil means no override
	DateFormatOverride string            // --date-format flag value
	Env                map[string]string // environment variables
}

// Load loads configuration with the following precedence (highest wins):
// 1. Defaults
// 2. Global user config
// 3. Project config file (.ht.json, if exists)
// 4. Explicit config file via ConfigPath (replaces 3)
// 5. CLI overrides.
//
// All paths in the returned Config are absolute.
func Load(input LoadInput) (Config, error) {
	workDir := input.WorkDirOverride
	if workDir == "" {
		var err error

		workDir, err = os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("cannot get working directory: %w", err)
		}
	}

	cfg := Default()

	if path := GlobalPath(input.Env); path != "" {
		global, loaded, err := loadFile(path, false)
		if err != nil {
			return Config{}, err
		}

		if loaded {
			cfg.Sources.Global = path
			cfg = merge(cfg, global)
		}
	}

	projectPath := filepath.Join(workDir, FileName)
	mustExist := false

	if input.ConfigPath != "" {
		projectPath = input.ConfigPath
		if !filepath.IsAbs(projectPath) {
			projectPath = filepath.Join(workDir, projectPath)
		}

		mustExist = true
	}

	project, loaded, err := loadFile(projectPath, mustExist)
	if err != nil {
		return Config{}, err
	}

	if loaded {
		cfg.Sources.Project = projectPath
		cfg = merge(cfg, project)
	}

	if input.VaultDirOverride != nil {
		if *input.VaultDirOverride == "" {
			return Config{}, ErrVaultDirEmpty
		}

		cfg.VaultDir = *input.VaultDirOverride
	}

	if input.DateFormatOverride != "" {
		cfg.DateFormat = input.DateFormatOverride
	}

	cfg.TTL, err = validate(cfg)
	if err != nil {
		return Config{}, err
	}

	cfg.EffectiveCwd = workDir
	cfg.VaultDirAbs = absolute(workDir, cfg.VaultDir)
	cfg.StateDirAbs = absolute(cfg.VaultDirAbs, cfg.StateDir)

	return cfg, nil
}

// loadFile reads one config file. A missing file is only an error when
// mustExist is set.
func loadFile(path string, mustExist bool) (Config, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if mustExist {
				return Config{}, false, fmt.Errorf("%w: %s", ErrConfigFileNotFound, path)
			}

			return Config{}, false, nil
		}

		return Config{}, false, fmt.Errorf("%w %s: %w", ErrConfigFileRead, path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return Config{}, false, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}

	return cfg, true, nil
}

// Parse decodes a JSONC config document. Fields explicitly set to an empty
// string are rejected for keys that cannot be empty.
func Parse(data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var cfg Config

	err = json.Unmarshal(standardized, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}

	var raw map[string]any

	_ = json.Unmarshal(standardized, &raw)

	for key, sentinel := range map[string]error{
		"vault_dir":   ErrVaultDirEmpty,
		"date_format": ErrDateFormatEmpty,
	} {
		if val, ok := raw[key]; ok {
			if str, ok := val.(string); ok && strings.TrimSpace(str) == "" {
				return Config{}, sentinel
			}
		}
	}

	return cfg, nil
}

func merge(base, overlay Config) Config {
	if overlay.VaultDir != "" {
		base.VaultDir = overlay.VaultDir
	}

	if overlay.DateFormat != "" {
		base.DateFormat = overlay.DateFormat
	}

	if overlay.CacheTTL != "" {
		base.CacheTTL = overlay.CacheTTL
	}

	if overlay.CacheMaxEntries != 0 {
		base.CacheMaxEntries = overlay.CacheMaxEntries
	}

	if overlay.StateDir != "" {
		base.StateDir = overlay.StateDir
	}

	if overlay.Index != nil {
		base.Index = overlay.Index
	}

	return base
}

func validate(cfg Config) (time.Duration, error) {
	if cfg.VaultDir == "" {
		return 0, ErrVaultDirEmpty
	}

	if cfg.DateFormat == "" {
		return 0, ErrDateFormatEmpty
	}

	if cfg.CacheMaxEntries < 0 {
		return 0, ErrCacheMaxInvalid
	}

	ttl, err := time.ParseDuration(cfg.CacheTTL)
	if err != nil || ttl <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrCacheTTLInvalid, cfg.CacheTTL)
	}

	return ttl, nil
}

func absolute(base, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}

	return filepath.Join(base, p)
}

const defaultFile = `{
	// Folder holding tracker documents, relative to the working directory.
	"vault_dir": %q,
	// Display format for dates on the command line.
	"date_format": %q,
	"cache_ttl": %q,
	"cache_max_entries": %d,
	// Index and lock files, relative to vault_dir.
	"state_dir": %q,
	"index": true,
}
`

// WriteDefault writes a commented default config to path. It fails with
// [ErrConfigExists] rather than overwrite an existing file.
func WriteDefault(path string) error {
	_, err := os.Stat(path)
	if err == nil {
		return fmt.Errorf("%w: %s", ErrConfigExists, path)
	}

	if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	d := Default()
	content := fmt.Sprintf(defaultFile, d.VaultDir, d.DateFormat, d.CacheTTL, d.CacheMaxEntries, d.StateDir)

	err = atomic.WriteFile(path, strings.NewReader(content))
	if err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}

	// atomic.WriteFile creates the temp file with 0600.
	err = os.Chmod(path, 0o644)
	if err != nil {
		return fmt.Errorf("chmod config %s: %w", path, err)
	}

	return nil
}
