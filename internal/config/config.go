package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

const (
	defaultLogLevel      = "info"
	defaultLogFormat     = "line"
	defaultCondorTimeout = 30 * time.Second
	defaultReportOutput  = "stdout"
	defaultPprofListen   = "127.0.0.1:6060"

	policySkip = "skip"
	policyFail = "fail"
)

// Duration wraps time.Duration for TOML parsing.
// Params: text duration string (e.g. "5s", "1m").
// Returns: parse error on invalid duration.
type Duration struct {
	time.Duration
}

// UnmarshalText parses TOML duration values.
// Params: text is raw duration bytes from TOML.
// Returns: error when value is not a valid Go duration.
func (d *Duration) UnmarshalText(text []byte) error {
	value := strings.TrimSpace(string(text))
	if value == "" {
		d.Duration = 0
		return nil
	}

	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value, err)
	}

	d.Duration = parsed
	return nil
}

// Config represents the root agent configuration.
// Params: TOML document sections.
// Returns: validated runtime configuration.
type Config struct {
	Agent  AgentConfig  `toml:"agent"`
	Log    LogConfig    `toml:"log"`
	Pprof  PprofConfig  `toml:"pprof"`
	Condor CondorConfig `toml:"condor"`
	VOMap  VOMapConfig  `toml:"vomap"`
	Report ReportConfig `toml:"report"`
}

// AgentConfig contains site identity and collection schedule.
// Params: site label and optional cron schedule.
// Returns: agent identity settings.
type AgentConfig struct {
	Site     string `toml:"site"`
	Schedule string `toml:"schedule"`
}

// PprofConfig defines optional runtime pprof HTTP endpoint.
// Params: enabled flag and listen address in host:port format.
// Returns: pprof runtime settings.
type PprofConfig struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
}

// LogConfig contains console/file logging configuration.
// Params: console and file sink options.
// Returns: logger sink settings.
type LogConfig struct {
	Console LogSinkConfig `toml:"console"`
	File    LogSinkConfig `toml:"file"`
}

// LogSinkConfig defines one logging sink.
// Params: sink options from TOML.
// Returns: sink setup.
type LogSinkConfig struct {
	Enabled bool   `toml:"enabled"`
	Level   string `toml:"level"`
	Format  string `toml:"format"`
	Path    string `toml:"path"`
}

// CondorConfig holds batch system query settings.
// Params: command timeout, aggregation options, command overrides, and environment.
// Returns: condor gateway runtime config.
type CondorConfig struct {
	Timeout          Duration             `toml:"timeout"`
	SubtractOwner    *bool                `toml:"subtract_owner"`
	UnknownSubmitter string               `toml:"unknown_submitter"`
	UnknownGroup     string               `toml:"unknown_group"`
	Commands         CondorCommandsConfig `toml:"commands"`
	Env              map[string]string    `toml:"env"`
}

// CondorCommandsConfig overrides the built-in status tool command lines.
// Empty fields keep the defaults.
// Params: command templates, quota/prio ones with a {group} placeholder.
// Returns: command override set.
type CondorCommandsConfig struct {
	Version    string `toml:"version"`
	Machines   string `toml:"machines"`
	Submitters string `toml:"submitters"`
	GroupNames string `toml:"group_names"`
	GroupQuota string `toml:"group_quota"`
	GroupPrio  string `toml:"group_prio"`
}

// VOMapConfig locates the account-to-VO map file.
// Params: map file path and watch flag.
// Returns: VO map settings.
type VOMapConfig struct {
	Path  string `toml:"path"`
	Watch bool   `toml:"watch"`
}

// ReportConfig controls where and how rendered reports go.
// Params: output destination and optional template path.
// Returns: report settings.
type ReportConfig struct {
	Output   string `toml:"output"`
	Template string `toml:"template"`
}

// Load reads, expands, validates, and returns config from path.
// Params: path to TOML config file or directory with *.toml files.
// Returns: validated config pointer or error.
func Load(path string) (*Config, error) {
	raw, err := readConfigSource(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(raw))

	var cfg Config
	if err := toml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("decode TOML %q: %w", path, err)
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// readConfigSource reads one TOML file or concatenates *.toml files from directory.
// Params: path to config file or directory.
// Returns: raw TOML bytes or error.
func readConfigSource(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat config %q: %w", path, err)
	}

	if !info.IsDir() {
		raw, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil, fmt.Errorf("read config %q: %w", path, readErr)
		}
		return raw, nil
	}

	return readConfigDir(path)
}

// readConfigDir concatenates config snippets from one directory.
// Params: path to directory that contains *.toml files.
// Returns: concatenated TOML content or error.
func readConfigDir(path string) ([]byte, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("read config dir %q: %w", path, err)
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(entry.Name()), ".toml") {
			files = append(files, entry.Name())
		}
	}

	sort.Strings(files)
	if len(files) == 0 {
		return nil, fmt.Errorf("read config dir %q: no *.toml files", path)
	}

	var builder strings.Builder
	for _, name := range files {
		filePath := filepath.Join(path, name)
		raw, readErr := os.ReadFile(filePath)
		if readErr != nil {
			return nil, fmt.Errorf("read config %q: %w", filePath, readErr)
		}
		builder.Write(raw)
		if len(raw) == 0 || raw[len(raw)-1] != '\n' {
			builder.WriteByte('\n')
		}
		builder.WriteByte('\n')
	}

	return []byte(builder.String()), nil
}

// applyDefaults fills defaults for optional configuration fields.
// Params: receiver config pointer.
// Returns: error when a default cannot be resolved.
func (c *Config) applyDefaults() error {
	c.Log.Console.Level = lowerOrDefault(c.Log.Console.Level, defaultLogLevel)
	c.Log.Console.Format = lowerOrDefault(c.Log.Console.Format, defaultLogFormat)
	c.Log.File.Level = lowerOrDefault(c.Log.File.Level, defaultLogLevel)
	c.Log.File.Format = lowerOrDefault(c.Log.File.Format, "json")

	if !c.Log.Console.Enabled && !c.Log.File.Enabled {
		c.Log.Console.Enabled = true
	}

	if c.Condor.Timeout.Duration <= 0 {
		c.Condor.Timeout.Duration = defaultCondorTimeout
	}
	if c.Condor.SubtractOwner == nil {
		c.Condor.SubtractOwner = boolPtr(true)
	}
	c.Condor.UnknownSubmitter = lowerOrDefault(c.Condor.UnknownSubmitter, policySkip)
	c.Condor.UnknownGroup = lowerOrDefault(c.Condor.UnknownGroup, policyFail)
	if c.Condor.Env == nil {
		c.Condor.Env = map[string]string{}
	}

	if strings.TrimSpace(c.Report.Output) == "" {
		c.Report.Output = defaultReportOutput
	}

	if c.Pprof.Enabled && strings.TrimSpace(c.Pprof.Listen) == "" {
		c.Pprof.Listen = defaultPprofListen
	}

	return nil
}

// validate checks config consistency and required fields.
// Params: receiver config pointer.
// Returns: validation error for invalid or incomplete config.
func (c *Config) validate() error {
	if strings.TrimSpace(c.Agent.Site) == "" {
		return fmt.Errorf("agent.site is required")
	}
	if err := validateSchedule("agent.schedule", c.Agent.Schedule); err != nil {
		return err
	}

	if err := validateSink("log.console", c.Log.Console, false); err != nil {
		return err
	}
	if err := validateSink("log.file", c.Log.File, true); err != nil {
		return err
	}
	if err := validatePprofConfig("pprof", c.Pprof); err != nil {
		return err
	}
	if err := validateCondorConfig("condor", c.Condor); err != nil {
		return err
	}

	if strings.TrimSpace(c.VOMap.Path) == "" {
		return fmt.Errorf("vomap.path is required")
	}

	return nil
}

// validateSchedule checks the optional cron expression. Empty means one
// collection cycle and exit.
// Params: fieldPath is the config path for errors; schedule is a cron expression.
// Returns: validation error or nil.
func validateSchedule(fieldPath string, schedule string) error {
	if strings.TrimSpace(schedule) == "" {
		return nil
	}

	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("%s: %w", fieldPath, err)
	}
	return nil
}

// validateCondorConfig validates gateway timeout, policies, and command overrides.
// Params: path is config path prefix; cfg condor section.
// Returns: validation error for invalid values.
func validateCondorConfig(path string, cfg CondorConfig) error {
	if cfg.Timeout.Duration <= 0 {
		return fmt.Errorf("%s.timeout must be > 0", path)
	}

	if err := validatePolicy(path+".unknown_submitter", cfg.UnknownSubmitter); err != nil {
		return err
	}
	if err := validatePolicy(path+".unknown_group", cfg.UnknownGroup); err != nil {
		return err
	}

	if cfg.Commands.GroupQuota != "" && !strings.Contains(cfg.Commands.GroupQuota, "{group}") {
		return fmt.Errorf("%s.commands.group_quota must contain {group}", path)
	}
	if cfg.Commands.GroupPrio != "" && !strings.Contains(cfg.Commands.GroupPrio, "{group}") {
		return fmt.Errorf("%s.commands.group_prio must contain {group}", path)
	}

	for envKey := range cfg.Env {
		if strings.TrimSpace(envKey) == "" {
			return fmt.Errorf("%s.env contains empty key", path)
		}
	}

	return nil
}

// validatePolicy validates unknown-key policy names.
// Params: fieldPath is the config path for errors; policy is lower-case policy name.
// Returns: error when policy is unsupported.
func validatePolicy(fieldPath string, policy string) error {
	switch policy {
	case policySkip, policyFail:
		return nil
	default:
		return fmt.Errorf("%s must be one of: skip, fail", fieldPath)
	}
}

// validateSink validates one logging sink configuration.
// Params: name is sink path for errors; sink is sink config; requirePath means path required when enabled.
// Returns: validation error or nil.
func validateSink(name string, sink LogSinkConfig, requirePath bool) error {
	if sink.Enabled && requirePath && strings.TrimSpace(sink.Path) == "" {
		return fmt.Errorf("%s.path is required when sink is enabled", name)
	}

	if err := validateLogLevel(sink.Level); err != nil {
		return fmt.Errorf("%s.level: %w", name, err)
	}
	if err := validateLogFormat(sink.Format); err != nil {
		return fmt.Errorf("%s.format: %w", name, err)
	}

	return nil
}

// validateLogLevel validates known log levels.
// Params: level is lower-case level name.
// Returns: error when level is unsupported.
func validateLogLevel(level string) error {
	switch strings.TrimSpace(strings.ToLower(level)) {
	case "info", "warn", "error", "panic", "debug":
		return nil
	default:
		return fmt.Errorf("unsupported value %q", level)
	}
}

// validateLogFormat validates supported sink formats.
// Params: format is lower-case format name.
// Returns: error when format is unsupported.
func validateLogFormat(format string) error {
	switch strings.TrimSpace(strings.ToLower(format)) {
	case "line", "json":
		return nil
	default:
		return fmt.Errorf("unsupported value %q", format)
	}
}

// validatePprofConfig validates optional pprof endpoint settings.
// Params: path is config path prefix; cfg pprof section.
// Returns: validation error for invalid listen endpoint.
func validatePprofConfig(path string, cfg PprofConfig) error {
	if !cfg.Enabled {
		return nil
	}
	if strings.TrimSpace(cfg.Listen) == "" {
		return fmt.Errorf("%s.listen cannot be empty when enabled", path)
	}
	if _, _, err := net.SplitHostPort(cfg.Listen); err != nil {
		return fmt.Errorf("%s.listen must be host:port: %w", path, err)
	}
	return nil
}

// lowerOrDefault returns a trimmed lower-case value or default fallback.
// Params: value to normalize; fallback value when empty.
// Returns: normalized value.
func lowerOrDefault(value, fallback string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return fallback
	}
	return normalized
}

// boolPtr returns pointer to provided bool value.
// Params: value to allocate.
// Returns: pointer to copied value.
func boolPtr(value bool) *bool {
	copied := value
	return &copied
}
