package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"annotd/internal/config"
)

// cli carries the resolved configuration shared by all subcommands.
type cli struct {
	out        io.Writer
	configPath string
	cfg        config.Config
	log        zerolog.Logger

	// flag-bound values, applied over the config file when set
	metadataPath   string
	logLevel       string
	logFormat      string
	cacheDir       string
	profileBackend string
	profileDB      string
	fakeGPUMiB     uint64
}

func newCLI(out io.Writer) *cli {
	return &cli{out: out, configPath: os.Getenv("ANNOTD_CONFIG"), log: zerolog.Nop()}
}

func buildRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "annotd",
		Short:         "Serve an annotation app behind parameter refinement and VRAM admission",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&c.configPath, "config", c.configPath, "Config file (.yaml, .json or .toml; defaults ANNOTD_CONFIG)")
	pf.StringVar(&c.metadataPath, "metadata", os.Getenv("ANNOTD_METADATA"), "App metadata file (defaults ANNOTD_METADATA)")
	pf.StringVar(&c.logLevel, "log-level", "", "Log level: debug|info|warn|error (default info)")
	pf.StringVar(&c.logFormat, "log-format", "", "Log format: console|json (default console)")
	pf.StringVar(&c.cacheDir, "cache-dir", "", "Root for file-backed memory profiles (defaults to the user cache)")
	pf.StringVar(&c.profileBackend, "profile-backend", "", "Memory profile store: file|sqlite (default file)")
	pf.StringVar(&c.profileDB, "profile-db", "", "SQLite database path for the sqlite backend")
	pf.Uint64Var(&c.fakeGPUMiB, "fake-gpu-mib", 0, "Use a static device of this many MiB instead of probing nvidia-smi")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return c.resolve(cmd)
	}

	root.AddCommand(newServeCmd(c), newMetadataCmd(c), newProfilesCmd(c))
	return root
}

// resolve loads the config file, overlays non-empty flag values and builds
// the logger. Flags (and their environment defaults) win over the file.
func (c *cli) resolve(cmd *cobra.Command) error {
	if c.configPath != "" {
		cfg, err := config.Load(c.configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		c.cfg = cfg
	}
	overlay(&c.cfg.MetadataPath, c.metadataPath)
	overlay(&c.cfg.LogLevel, c.logLevel)
	overlay(&c.cfg.LogFormat, c.logFormat)
	overlay(&c.cfg.CacheDir, c.cacheDir)
	overlay(&c.cfg.ProfileBackend, c.profileBackend)
	overlay(&c.cfg.ProfileDB, c.profileDB)
	if c.fakeGPUMiB > 0 {
		c.cfg.FakeGPUMiB = c.fakeGPUMiB
	}
	c.cfg.ApplyDefaults()
	if err := c.cfg.Validate(); err != nil {
		return err
	}
	log, err := newLogger(c.cfg.LogLevel, c.cfg.LogFormat, os.Stderr)
	if err != nil {
		return err
	}
	c.log = log
	return nil
}

func overlay(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func newLogger(level, format string, w io.Writer) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q", level)
	}
	if format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
}

// splitCSV splits a comma-separated list, trimming blanks and dropping empties.
func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
