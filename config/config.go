package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// ReportName is the file name of the per-run report inside the work directory.
const ReportName = "report.csv"

// Group selects which flag set a command exposes.
type Group int

const (
	GroupSource Group = 1 << iota
	GroupExtract
	GroupArchive
	GroupIMAP
)

// SourceKind names where the messages of a run come from.
type SourceKind string

const (
	SourceNone SourceKind = ""
	SourcePST  SourceKind = "pst"
	SourceMbox SourceKind = "mbox"
	SourceIMAP SourceKind = "imap"
)

// Config captures all command-line options of the archiver.
type Config struct {
	ConfigFile string

	PSTPath  string
	MboxPath string
	WorkDir  string

	ReadPSTBinary string
	ReadPSTArgs   []string

	TransportHeader string
	StatusFrom      string
	IncludeHeader   []string
	IncludeBody     []string
	ExcludeHeader   []string
	ExcludeBody     []string

	ArchivePath        string
	ReportPath         string
	TimestampSnapshots bool
	SkipImported       bool
	StateDir           string

	IMAPHost           string
	IMAPPort           int
	IMAPUser           string
	IMAPPass           string
	UseTLS             bool
	InsecureSkipVerify bool
	IMAPFolder         string

	LogLevel string
	LogDir   string

	groups Group
}

// Source reports which input the configuration selects.
func (c Config) Source() SourceKind {
	switch {
	case c.PSTPath != "":
		return SourcePST
	case c.MboxPath != "":
		return SourceMbox
	case c.IMAPFolder != "" && c.groups&GroupSource != 0:
		return SourceIMAP
	}
	return SourceNone
}

// Report returns the report path, defaulting to report.csv in the work
// directory.
func (c Config) Report() string {
	if c.ReportPath != "" {
		return c.ReportPath
	}
	return filepath.Join(c.WorkDir, ReportName)
}

// RegisterFlags attaches the flags of the given groups to cmd. The logging
// and config-file flags are always present.
func RegisterFlags(cmd *cobra.Command, groups Group) error {
	flags := cmd.Flags()
	flags.String("config", "", "TOML file whose keys (flag names) provide defaults for unset flags")
	flags.String("log-level", "info", "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Directory for log files (also logs to stdout)")
	flags.String("work-dir", "files", "Directory for converted mailboxes and the run report")

	if groups&GroupSource != 0 {
		flags.String("pst", "", "PST/OST file to convert and archive")
		flags.String("mbox", "", "mbox file or directory tree to archive")
		flags.String("readpst", "readpst", "Converter binary used for PST/OST files")
		flags.StringArray("readpst-arg", nil, "Extra argument passed to the converter (repeatable)")
	}

	if groups&GroupExtract != 0 {
		if flags.Lookup("mbox") == nil {
			flags.String("mbox", "", "mbox file or directory tree to extract")
		}
		flags.String("report", "", "Path of the run report CSV (default <work-dir>/report.csv)")
		flags.String("transport-header", "X-Transport", "Header whose embedded key/value lines become extra columns")
		flags.String("status-from", "terminal", "Thread status source: terminal (oldest reachable ancestor) or message")
		flags.StringArray("include-header", nil, "Regex allow-list applied to message headers (mutually exclusive with exclude flags)")
		flags.StringArray("include-body", nil, "Regex allow-list applied to message bodies (mutually exclusive with exclude flags)")
		flags.StringArray("exclude-header", nil, "Regex block-list applied to message headers (mutually exclusive with include flags)")
		flags.StringArray("exclude-body", nil, "Regex block-list applied to message bodies (mutually exclusive with include flags)")
	}

	if groups&GroupArchive != 0 {
		defaultStateDir, err := defaultStateDir()
		if err != nil {
			return err
		}
		flags.String("archive", "archive.csv", "Path of the cumulative archive CSV")
		if flags.Lookup("report") == nil {
			flags.String("report", "", "Path of the run report CSV (default <work-dir>/report.csv)")
		}
		flags.Bool("timestamp-snapshots", false, "Keep a timestamped copy of every merged report")
		flags.Bool("skip-imported", false, "Skip sources already recorded in the import ledger")
		flags.String("state-dir", defaultStateDir, "Directory for the import ledger")
	}

	if groups&GroupIMAP != 0 {
		flags.String("imap-host", "", "IMAP server hostname")
		flags.Int("imap-port", 993, "IMAP server port")
		flags.String("imap-user", "", "IMAP username")
		flags.String("imap-pass", "", "IMAP password (falls back to IMAP_PASS env var)")
		flags.Bool("use-tls", true, "Use TLS for the IMAP connection")
		flags.Bool("insecure-skip-verify", false, "Skip TLS certificate verification (not recommended)")
		flags.String("imap-folder", "", "IMAP folder to snapshot")
	}

	return nil
}

// LoadConfig converts the parsed Cobra flags into a Config struct. Keys of
// the optional --config file fill in every flag not given on the command
// line.
func LoadConfig(cmd *cobra.Command, groups Group) (Config, error) {
	flags := cmd.Flags()

	configFile := getString(flags, "config")
	if configFile != "" {
		if err := applyFile(flags, configFile); err != nil {
			return Config{}, err
		}
	}

	cfg := Config{
		ConfigFile:         configFile,
		PSTPath:            getString(flags, "pst"),
		MboxPath:           getString(flags, "mbox"),
		WorkDir:            getString(flags, "work-dir"),
		ReadPSTBinary:      getString(flags, "readpst"),
		ReadPSTArgs:        getStringArray(flags, "readpst-arg"),
		TransportHeader:    getString(flags, "transport-header"),
		StatusFrom:         strings.ToLower(getString(flags, "status-from")),
		IncludeHeader:      getStringArray(flags, "include-header"),
		IncludeBody:        getStringArray(flags, "include-body"),
		ExcludeHeader:      getStringArray(flags, "exclude-header"),
		ExcludeBody:        getStringArray(flags, "exclude-body"),
		ArchivePath:        getString(flags, "archive"),
		ReportPath:         getString(flags, "report"),
		TimestampSnapshots: getBool(flags, "timestamp-snapshots"),
		SkipImported:       getBool(flags, "skip-imported"),
		StateDir:           getString(flags, "state-dir"),
		IMAPHost:           getString(flags, "imap-host"),
		IMAPPort:           getInt(flags, "imap-port"),
		IMAPUser:           getString(flags, "imap-user"),
		IMAPPass:           getString(flags, "imap-pass"),
		UseTLS:             getBool(flags, "use-tls"),
		InsecureSkipVerify: getBool(flags, "insecure-skip-verify"),
		IMAPFolder:         getString(flags, "imap-folder"),
		LogLevel:           strings.ToLower(getString(flags, "log-level")),
		LogDir:             getString(flags, "log-dir"),
		groups:             groups,
	}

	if cfg.IMAPPass == "" && groups&GroupIMAP != 0 {
		cfg.IMAPPass = os.Getenv("IMAP_PASS")
	}
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	if cfg.StateDir != "" {
		cfg.StateDir = filepath.Clean(cfg.StateDir)
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = "files"
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// applyFile sets every flag named in the TOML file that was not changed on
// the command line. Arrays set repeatable flags once per element.
func applyFile(flags *pflag.FlagSet, path string) error {
	var values map[string]any
	if _, err := toml.DecodeFile(path, &values); err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if key == "config" {
			return fmt.Errorf("config file %s: key %q is not allowed", path, key)
		}
		flag := flags.Lookup(key)
		if flag == nil {
			return fmt.Errorf("config file %s: unknown key %q", path, key)
		}
		if flag.Changed {
			continue
		}

		var items []any
		switch v := values[key].(type) {
		case []any:
			items = v
		case map[string]any:
			return fmt.Errorf("config file %s: key %q must not be a table", path, key)
		default:
			items = []any{v}
		}
		for _, item := range items {
			if err := flags.Set(key, fmt.Sprint(item)); err != nil {
				return fmt.Errorf("config file %s: key %q: %w", path, key, err)
			}
		}
	}
	return nil
}

func validateConfig(cfg Config) error {
	var errs []error

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("invalid --log-level: %s", cfg.LogLevel))
	}

	if cfg.groups&GroupExtract != 0 {
		switch cfg.StatusFrom {
		case "terminal", "message":
		default:
			errs = append(errs, fmt.Errorf("invalid --status-from: %s", cfg.StatusFrom))
		}
		if strings.TrimSpace(cfg.TransportHeader) == "" {
			errs = append(errs, fmt.Errorf("--transport-header must not be empty"))
		}
		includeActive := len(cfg.IncludeHeader) > 0 || len(cfg.IncludeBody) > 0
		excludeActive := len(cfg.ExcludeHeader) > 0 || len(cfg.ExcludeBody) > 0
		if includeActive && excludeActive {
			errs = append(errs, fmt.Errorf("include and exclude flags are mutually exclusive"))
		}
	}

	if cfg.groups&GroupSource != 0 {
		sources := 0
		for _, s := range []string{cfg.PSTPath, cfg.MboxPath, cfg.IMAPFolder} {
			if s != "" {
				sources++
			}
		}
		switch {
		case sources == 0:
			errs = append(errs, fmt.Errorf("one of --pst, --mbox or --imap-folder is required"))
		case sources > 1:
			errs = append(errs, fmt.Errorf("--pst, --mbox and --imap-folder are mutually exclusive"))
		}
		if cfg.PSTPath != "" && cfg.ReadPSTBinary == "" {
			errs = append(errs, fmt.Errorf("--readpst must not be empty"))
		}
	} else if cfg.groups&GroupExtract != 0 && cfg.MboxPath == "" {
		errs = append(errs, fmt.Errorf("--mbox is required"))
	}

	if cfg.groups&GroupArchive != 0 {
		if cfg.ArchivePath == "" {
			errs = append(errs, fmt.Errorf("--archive must not be empty"))
		}
		if cfg.SkipImported && cfg.StateDir == "" {
			errs = append(errs, fmt.Errorf("--skip-imported requires --state-dir"))
		}
	}

	imapNeeded := cfg.groups&GroupIMAP != 0 && (cfg.groups&GroupSource == 0 || cfg.IMAPFolder != "")
	if imapNeeded {
		if cfg.IMAPHost == "" {
			errs = append(errs, fmt.Errorf("--imap-host is required"))
		}
		if cfg.IMAPUser == "" {
			errs = append(errs, fmt.Errorf("--imap-user is required"))
		}
		if cfg.IMAPPass == "" {
			errs = append(errs, fmt.Errorf("IMAP password must be provided via --imap-pass or IMAP_PASS env var"))
		}
		if cfg.IMAPPort <= 0 || cfg.IMAPPort > 65535 {
			errs = append(errs, fmt.Errorf("--imap-port must be between 1 and 65535"))
		}
	}

	return errors.Join(errs...)
}

func getString(flags *pflag.FlagSet, name string) string {
	if flags.Lookup(name) == nil {
		return ""
	}
	v, _ := flags.GetString(name)
	return v
}

func getStringArray(flags *pflag.FlagSet, name string) []string {
	if flags.Lookup(name) == nil {
		return nil
	}
	v, _ := flags.GetStringArray(name)
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

func defaultStateDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".mail-archiver", "state"), nil
}
