package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/dhcgn/email-proc/filter"
)

// Mode selects which command a Config is loaded for. Validation depends on it.
type Mode int

const (
	ModeStats Mode = iota
	ModeExport
	ModeInspect
	ModeFetch
)

func (m Mode) String() string {
	switch m {
	case ModeStats:
		return "stats"
	case ModeExport:
		return "export"
	case ModeInspect:
		return "inspect"
	case ModeFetch:
		return "fetch"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Config captures the command-line options of every command. Fields a
// command does not register keep their zero value.
type Config struct {
	Mode Mode

	MboxPath       string
	LineTerminator string
	KeepDuplicates bool

	OutputDir   string
	MetricsFile string
	NoProgress  bool

	OutPath string

	IMAPHost           string
	IMAPPort           int
	IMAPUser           string
	IMAPPass           string
	UseTLS             bool
	InsecureSkipVerify bool
	Mailboxes          []string
	DownloadDir        string
	WithStats          bool

	LogLevel   string
	LogDir     string
	ConfigFile string

	IncludeHeader []string
	IncludeBody   []string
	ExcludeHeader []string
	ExcludeBody   []string
}

// FilterOptions returns the header and body patterns of the command.
func (c Config) FilterOptions() filter.Options {
	return filter.Options{
		IncludeHeader: c.IncludeHeader,
		IncludeBody:   c.IncludeBody,
		ExcludeHeader: c.ExcludeHeader,
		ExcludeBody:   c.ExcludeBody,
	}
}

// EOL returns the line terminator written after parsed lines.
func (c Config) EOL() string {
	if c.LineTerminator == "crlf" {
		return "\r\n"
	}
	return "\n"
}

// RegisterPersistentFlags attaches the flags shared by every command.
func RegisterPersistentFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.String("log-level", "info", "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Also write logs to a timestamped file in this directory")
	flags.String("config", "", "YAML file with default flag values")
}

// RegisterArchiveFlags attaches the flags of commands that parse an archive.
func RegisterArchiveFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("line-terminator", "lf", "Terminator written after parsed lines: lf or crlf")
	flags.Bool("keep-duplicates", false, "Keep messages whose Message-ID was already seen")
	registerFilterFlags(flags)
}

// RegisterReportFlags attaches the flags of the stats report.
func RegisterReportFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("output", ".", "Directory the report is written to")
	flags.String("metrics-file", "", "Write run metrics in Prometheus text format to this file")
	flags.Bool("no-progress", false, "Disable the progress bar")
}

// RegisterExportFlags attaches the flags of the export command.
func RegisterExportFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("out", "", "Path of the mbox file to write")
	flags.Bool("no-progress", false, "Disable the progress bar")
}

// RegisterIMAPFlags attaches the flags of the fetch command.
func RegisterIMAPFlags(cmd *cobra.Command) error {
	downloadDir, err := defaultDownloadDir()
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	flags.String("imap-host", "", "IMAP server hostname")
	flags.Int("imap-port", 993, "IMAP server port")
	flags.String("imap-user", "", "IMAP username")
	flags.String("imap-pass", "", "IMAP password (falls back to IMAP_PASS env var)")
	flags.Bool("use-tls", true, "Use TLS for the IMAP connection")
	flags.Bool("insecure-skip-verify", false, "Skip TLS certificate verification (not recommended)")
	flags.StringArray("mailbox", nil, "Mailbox to download (repeatable, default all)")
	flags.String("download-dir", downloadDir, "Directory the downloaded archive is written to")
	flags.Bool("stats", false, "Write a stats report of the archive after the download")
	flags.String("metrics-file", "", "Write run metrics in Prometheus text format to this file")
	flags.Bool("no-progress", false, "Disable the progress bar of the stats report")
	registerFilterFlags(flags)
	return nil
}

func registerFilterFlags(flags *pflag.FlagSet) {
	flags.StringArray("include-header", nil, "Regex allow-list applied to message headers (mutually exclusive with exclude flags)")
	flags.StringArray("include-body", nil, "Regex allow-list applied to message bodies (mutually exclusive with exclude flags)")
	flags.StringArray("exclude-header", nil, "Regex block-list applied to message headers (mutually exclusive with include flags)")
	flags.StringArray("exclude-body", nil, "Regex block-list applied to message bodies (mutually exclusive with include flags)")
}

// LoadConfig converts the parsed Cobra flags into a Config for mode. The
// archive path is the first positional argument of the archive commands.
func LoadConfig(cmd *cobra.Command, mode Mode, args []string) (Config, error) {
	flags := cmd.Flags()

	configFile := getString(flags, "config")
	if configFile != "" {
		if err := ApplyFile(flags, configFile); err != nil {
			return Config{}, err
		}
	}

	cfg := Config{
		Mode:               mode,
		LineTerminator:     strings.ToLower(getString(flags, "line-terminator")),
		KeepDuplicates:     getBool(flags, "keep-duplicates"),
		OutputDir:          getString(flags, "output"),
		MetricsFile:        getString(flags, "metrics-file"),
		NoProgress:         getBool(flags, "no-progress"),
		OutPath:            getString(flags, "out"),
		IMAPHost:           getString(flags, "imap-host"),
		IMAPPort:           getInt(flags, "imap-port"),
		IMAPUser:           getString(flags, "imap-user"),
		IMAPPass:           getString(flags, "imap-pass"),
		UseTLS:             getBool(flags, "use-tls"),
		InsecureSkipVerify: getBool(flags, "insecure-skip-verify"),
		Mailboxes:          getStringArray(flags, "mailbox"),
		DownloadDir:        getString(flags, "download-dir"),
		WithStats:          getBool(flags, "stats"),
		LogLevel:           strings.ToLower(getString(flags, "log-level")),
		LogDir:             getString(flags, "log-dir"),
		ConfigFile:         configFile,
		IncludeHeader:      getStringArray(flags, "include-header"),
		IncludeBody:        getStringArray(flags, "include-body"),
		ExcludeHeader:      getStringArray(flags, "exclude-header"),
		ExcludeBody:        getStringArray(flags, "exclude-body"),
	}
	if len(args) > 0 {
		cfg.MboxPath = args[0]
	}

	if cfg.IMAPPass == "" {
		cfg.IMAPPass = os.Getenv("IMAP_PASS")
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}

	var err error
	for _, path := range []*string{&cfg.MboxPath, &cfg.OutputDir, &cfg.MetricsFile, &cfg.OutPath, &cfg.DownloadDir, &cfg.LogDir} {
		if *path == "" {
			continue
		}
		if *path, err = homedir.Expand(*path); err != nil {
			return Config{}, fmt.Errorf("expand path %q: %w", *path, err)
		}
		*path = filepath.Clean(*path)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validateConfig(cfg Config) error {
	switch cfg.Mode {
	case ModeStats, ModeExport, ModeInspect:
		if cfg.MboxPath == "" {
			return fmt.Errorf("an mbox archive path is required")
		}
		switch cfg.LineTerminator {
		case "lf", "crlf":
		default:
			return fmt.Errorf("invalid --line-terminator: %s", cfg.LineTerminator)
		}
	case ModeFetch:
		if cfg.IMAPHost == "" {
			return fmt.Errorf("--imap-host is required")
		}
		if cfg.IMAPUser == "" {
			return fmt.Errorf("--imap-user is required")
		}
		if cfg.IMAPPass == "" {
			return fmt.Errorf("IMAP password must be provided via --imap-pass or IMAP_PASS env var")
		}
		if cfg.IMAPPort <= 0 || cfg.IMAPPort > 65535 {
			return fmt.Errorf("--imap-port must be between 1 and 65535")
		}
		if cfg.DownloadDir == "" {
			return fmt.Errorf("--download-dir is required")
		}
	}
	if cfg.Mode == ModeExport && cfg.OutPath == "" {
		return fmt.Errorf("--out is required")
	}
	if cfg.Mode == ModeExport && cfg.OutPath == cfg.MboxPath {
		return fmt.Errorf("--out must differ from the source archive")
	}

	includeActive := len(cfg.IncludeHeader) > 0 || len(cfg.IncludeBody) > 0
	excludeActive := len(cfg.ExcludeHeader) > 0 || len(cfg.ExcludeBody) > 0
	if includeActive && excludeActive {
		return fmt.Errorf("include and exclude flags are mutually exclusive")
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log-level: %s", cfg.LogLevel)
	}

	return nil
}

// ApplyFile reads a YAML mapping of flag names to values and sets every flag
// of flags the user did not set on the command line. Keys naming flags the
// command does not have are an error.
func ApplyFile(flags *pflag.FlagSet, path string) error {
	path, err := homedir.Expand(path)
	if err != nil {
		return fmt.Errorf("expand config path: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	var values map[string]any
	if err := yaml.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	for name, value := range values {
		flag := flags.Lookup(name)
		if flag == nil {
			return fmt.Errorf("config %s: unknown key %q", path, name)
		}
		if flag.Changed {
			continue
		}
		items, ok := value.([]any)
		if !ok {
			items = []any{value}
		}
		for _, item := range items {
			if err := flags.Set(name, fmt.Sprint(item)); err != nil {
				return fmt.Errorf("config %s: %s: %w", path, name, err)
			}
		}
	}
	return nil
}

// The getters tolerate flags a command does not register.

func getString(flags *pflag.FlagSet, name string) string {
	if flags.Lookup(name) == nil {
		return ""
	}
	v, _ := flags.GetString(name)
	return v
}

func getBool(flags *pflag.FlagSet, name string) bool {
	if flags.Lookup(name) == nil {
		return false
	}
	v, _ := flags.GetBool(name)
	return v
}

func getInt(flags *pflag.FlagSet, name string) int {
	if flags.Lookup(name) == nil {
		return 0
	}
	v, _ := flags.GetInt(name)
	return v
}

func getStringArray(flags *pflag.FlagSet, name string) []string {
	if flags.Lookup(name) == nil {
		return nil
	}
	v, _ := flags.GetStringArray(name)
	return v
}

func defaultDownloadDir() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".email-proc", "downloads"), nil
}
