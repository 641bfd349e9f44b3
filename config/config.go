// Package config resolves srcconcat settings from defaults, an optional
// .env file, the environment, and command-line flags, in increasing order
// of precedence.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/vormadev/srcconcat/aggregate"
	"github.com/vormadev/srcconcat/kit/fsutil"
)

const (
	DefaultSourceDir = "./src"
	DefaultOutput    = "./source_code.md"
	DefaultExtraFile = "./tailwind.config.ts"
	DefaultEnvFile   = ".env"
)

// Environment variable keys
const (
	envSource = "SRCCONCAT_SOURCE"
	envOutput = "SRCCONCAT_OUTPUT"
	envExtra  = "SRCCONCAT_EXTRA"
	envPace   = "SRCCONCAT_PACE"
	envWatch  = "SRCCONCAT_WATCH"
	envQuiet  = "SRCCONCAT_QUIET"
)

type Config struct {
	SourceDir string
	Output    string
	ExtraFile string
	Pace      time.Duration
	Watch     bool
	Quiet     bool
	Debug     bool
	EnvFile   string
}

func Defaults() Config {
	return Config{
		SourceDir: DefaultSourceDir,
		Output:    DefaultOutput,
		ExtraFile: DefaultExtraFile,
		EnvFile:   DefaultEnvFile,
	}
}

// Load parses args (without the program name). Flag errors, including
// -h, are returned as-is so the caller can tell flag.ErrHelp apart.
func Load(args []string, usageOut io.Writer) (Config, error) {
	cfg := Defaults()

	fs := flag.NewFlagSet("srcconcat", flag.ContinueOnError)
	fs.SetOutput(usageOut)

	var fl Config
	fs.StringVar(&fl.SourceDir, "src", cfg.SourceDir, "source directory to scan ($"+envSource+")")
	fs.StringVar(&fl.Output, "out", cfg.Output, "destination document ($"+envOutput+")")
	fs.StringVar(&fl.ExtraFile, "extra", cfg.ExtraFile, "file appended last if it exists, empty to disable ($"+envExtra+")")
	fs.DurationVar(&fl.Pace, "pace", 0, "delay after each copied file, e.g. 100ms ($"+envPace+")")
	fs.BoolVar(&fl.Watch, "watch", false, "re-run whenever a relevant file changes ($"+envWatch+")")
	fs.BoolVar(&fl.Quiet, "quiet", false, "only log warnings and errors ($"+envQuiet+")")
	fs.BoolVar(&fl.Debug, "debug", false, "log debug details")
	fs.StringVar(&fl.EnvFile, "env", cfg.EnvFile, "dotenv file loaded before reading the environment")

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if fs.NArg() > 0 {
		return cfg, fmt.Errorf("config: unexpected arguments: %v", fs.Args())
	}

	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	cfg.EnvFile = fl.EnvFile
	if err := loadEnvFile(cfg.EnvFile, set["env"]); err != nil {
		return cfg, err
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}

	if set["src"] {
		cfg.SourceDir = fl.SourceDir
	}
	if set["out"] {
		cfg.Output = fl.Output
	}
	if set["extra"] {
		cfg.ExtraFile = fl.ExtraFile
	}
	if set["pace"] {
		cfg.Pace = fl.Pace
	}
	if set["watch"] {
		cfg.Watch = fl.Watch
	}
	if set["quiet"] {
		cfg.Quiet = fl.Quiet
	}
	if set["debug"] {
		cfg.Debug = fl.Debug
	}

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// loadEnvFile loads path without overriding variables already set in the
// process. A missing default file is fine; a missing explicit one is not.
func loadEnvFile(path string, explicit bool) error {
	if path == "" {
		return nil
	}
	if !fsutil.Exists(path) {
		if explicit {
			return fmt.Errorf("config: env file %s: %w", path, os.ErrNotExist)
		}
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("config: env file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v, ok := os.LookupEnv(envSource); ok {
		c.SourceDir = v
	}
	if v, ok := os.LookupEnv(envOutput); ok {
		c.Output = v
	}
	if v, ok := os.LookupEnv(envExtra); ok {
		c.ExtraFile = v
	}
	if v, ok := os.LookupEnv(envPace); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", envPace, err)
		}
		c.Pace = d
	}
	var err error
	if c.Watch, err = envBool(envWatch, c.Watch); err != nil {
		return err
	}
	if c.Quiet, err = envBool(envQuiet, c.Quiet); err != nil {
		return err
	}
	return nil
}

func envBool(key string, fallback bool) (bool, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback, fmt.Errorf("config: %s: %w", key, err)
	}
	return b, nil
}

func (c Config) validate() error {
	switch {
	case c.SourceDir == "":
		return errors.New("config: source directory must not be empty")
	case c.Output == "":
		return errors.New("config: output path must not be empty")
	case c.Pace < 0:
		return errors.New("config: pace must not be negative")
	}
	return nil
}

// Level maps -quiet and -debug to a log level. Debug wins.
func (c Config) Level() slog.Level {
	switch {
	case c.Debug:
		return slog.LevelDebug
	case c.Quiet:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// Aggregate returns the aggregation settings. Extensions are always the
// built-in set.
func (c Config) Aggregate(log *slog.Logger) aggregate.Config {
	return aggregate.Config{
		SourceDir: c.SourceDir,
		Output:    c.Output,
		ExtraFile: c.ExtraFile,
		Pace:      c.Pace,
		Logger:    log,
	}
}
