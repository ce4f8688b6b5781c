// Package config loads the gateway's process-wide settings. Layering
// follows the same Default() -> file -> merge() shape the original
// molecular server used for its TOML config, extended with an
// environment-variable layer that always wins, since the gateway is meant
// to run from a flat key/value environment (container, systemd unit) with
// the TOML file reserved for checked-in defaults an operator doesn't want
// to repeat in every deployment's env.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

var ErrInvalid = errors.New("invalid config")

type Config struct {
	BridgeToken      string   `toml:"bridge_token"`
	AllowedRoots     []string `toml:"allowed_roots"`
	ListenPort       int      `toml:"listen_port"`
	BindAddress      string   `toml:"bind_address"`
	DataDir          string   `toml:"data_dir"`
	DenyGlobs        []string `toml:"deny_globs"`
	PromptAppend     string   `toml:"prompt_append"`
	MaxConcurrent    int      `toml:"max_concurrent"`
	TurnsCap         int      `toml:"turns_cap"`
	TimeoutCapSecs   int      `toml:"timeout_cap_seconds"`
	LogtailMaxLines  int      `toml:"logtail_max_lines"`
	ExcerptMaxChars  int      `toml:"excerpt_max_chars"`
	AgentBinary      string   `toml:"agent_binary"`
	OTLPEndpoint     string   `toml:"otlp_endpoint"`
}

func Default() Config {
	return Config{
		ListenPort:      8787,
		BindAddress:     "127.0.0.1",
		DataDir:         filepath.ToSlash(filepath.Join(".", "data", "sessions")),
		DenyGlobs:       []string{"**/.env", "**/.ssh/**", "**/credentials*", "**/*.pem", "**/*.key"},
		MaxConcurrent:   1,
		TurnsCap:        50,
		TimeoutCapSecs:  1800,
		LogtailMaxLines: 200,
		ExcerptMaxChars: 8192,
		AgentBinary:     "claude",
	}
}

// LoadResult mirrors the teacher's LoadResult: callers can distinguish
// "no override file present" from "override file present but unparsable"
// without Load itself deciding that's fatal.
type LoadResult struct {
	Config     Config
	FileFound  bool
	FilePath   string
	ParseError error
}

// Load builds the effective config: defaults, then an optional TOML file
// at filePath (if non-empty and present), then environment variables.
// It returns an error only for validation failures (missing token,
// missing allowed roots, bad port, nonexistent allowed-root directory);
// a missing or unparsable TOML file is reported in LoadResult but is not
// itself fatal, matching the teacher's Load(repoRoot) behavior.
func Load(filePath string) (Config, LoadResult, error) {
	res := LoadResult{Config: Default(), FilePath: filePath}

	if filePath != "" {
		b, err := os.ReadFile(filePath)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				res.ParseError = err
			}
		} else {
			res.FileFound = true
			var parsed Config
			if err := toml.Unmarshal(b, &parsed); err != nil {
				res.ParseError = fmt.Errorf("%w: %v", ErrInvalid, err)
			} else {
				res.Config = merge(res.Config, parsed)
			}
		}
	}

	cfg := applyEnv(res.Config)
	res.Config = cfg

	if err := validate(cfg); err != nil {
		return cfg, res, err
	}
	return cfg, res, nil
}

func merge(def Config, cfg Config) Config {
	if cfg.BridgeToken != "" {
		def.BridgeToken = cfg.BridgeToken
	}
	if len(cfg.AllowedRoots) != 0 {
		def.AllowedRoots = cfg.AllowedRoots
	}
	if cfg.ListenPort != 0 {
		def.ListenPort = cfg.ListenPort
	}
	if cfg.BindAddress != "" {
		def.BindAddress = cfg.BindAddress
	}
	if cfg.DataDir != "" {
		def.DataDir = cfg.DataDir
	}
	if len(cfg.DenyGlobs) != 0 {
		def.DenyGlobs = cfg.DenyGlobs
	}
	if cfg.PromptAppend != "" {
		def.PromptAppend = cfg.PromptAppend
	}
	if cfg.MaxConcurrent != 0 {
		def.MaxConcurrent = cfg.MaxConcurrent
	}
	if cfg.TurnsCap != 0 {
		def.TurnsCap = cfg.TurnsCap
	}
	if cfg.TimeoutCapSecs != 0 {
		def.TimeoutCapSecs = cfg.TimeoutCapSecs
	}
	if cfg.LogtailMaxLines != 0 {
		def.LogtailMaxLines = cfg.LogtailMaxLines
	}
	if cfg.ExcerptMaxChars != 0 {
		def.ExcerptMaxChars = cfg.ExcerptMaxChars
	}
	if cfg.AgentBinary != "" {
		def.AgentBinary = cfg.AgentBinary
	}
	if cfg.OTLPEndpoint != "" {
		def.OTLPEndpoint = cfg.OTLPEndpoint
	}
	return def
}

func applyEnv(cfg Config) Config {
	if v := os.Getenv("BRIDGE_TOKEN"); v != "" {
		cfg.BridgeToken = v
	}
	if v := os.Getenv("BRIDGE_ALLOWED_ROOTS"); v != "" {
		cfg.AllowedRoots = splitCSV(v)
	}
	if v := os.Getenv("BRIDGE_LISTEN_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ListenPort = n
		}
	}
	if v := os.Getenv("BRIDGE_BIND_ADDRESS"); v != "" {
		cfg.BindAddress = v
	}
	if v := os.Getenv("BRIDGE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("BRIDGE_DENY_GLOBS"); v != "" {
		cfg.DenyGlobs = splitCSV(v)
	}
	if v := os.Getenv("BRIDGE_PROMPT_APPEND"); v != "" {
		cfg.PromptAppend = v
	}
	if v := os.Getenv("BRIDGE_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxConcurrent = n
		}
	}
	if v := os.Getenv("BRIDGE_TURNS_CAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.TurnsCap = n
		}
	}
	if v := os.Getenv("BRIDGE_TIMEOUT_CAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.TimeoutCapSecs = n
		}
	}
	if v := os.Getenv("BRIDGE_LOGTAIL_MAX_LINES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LogtailMaxLines = n
		}
	}
	if v := os.Getenv("BRIDGE_EXCERPT_MAX_CHARS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ExcerptMaxChars = n
		}
	}
	if v := os.Getenv("BRIDGE_AGENT_BIN"); v != "" {
		cfg.AgentBinary = v
	}
	if v := os.Getenv("BRIDGE_OTLP_ENDPOINT"); v != "" {
		cfg.OTLPEndpoint = v
	}
	return cfg
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func validate(cfg Config) error {
	if cfg.BridgeToken == "" {
		return fmt.Errorf("%w: bridge token is required (BRIDGE_TOKEN)", ErrInvalid)
	}
	if len(cfg.AllowedRoots) == 0 {
		return fmt.Errorf("%w: at least one allowed root is required (BRIDGE_ALLOWED_ROOTS)", ErrInvalid)
	}
	if cfg.ListenPort < 1 || cfg.ListenPort > 65535 {
		return fmt.Errorf("%w: listen port %d out of range", ErrInvalid, cfg.ListenPort)
	}
	for _, r := range cfg.AllowedRoots {
		fi, err := os.Stat(r)
		if err != nil {
			return fmt.Errorf("%w: allowed root %q: %v", ErrInvalid, r, err)
		}
		if !fi.IsDir() {
			return fmt.Errorf("%w: allowed root %q is not a directory", ErrInvalid, r)
		}
	}
	return nil
}
