package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/entitystore/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	// Backend flags. Each overrides its ENTITYSTORE_* variable when set.
	DBPath         string
	RemoteURL      string
	Timeout        time.Duration
	SchemaDir      string
	LocalResources []string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the entitystore CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "entitystore",
		Short: "Optimistic entity stores over a remote or local backend",
		Long: `entitystore keeps per-resource record lists in sync with a backend.

Writes apply optimistically and roll back when the backend rejects them.
The backend is a remote HTTP service with a local SQLite fallback, or the
local database alone when no remote URL is configured.

Configuration is read from ENTITYSTORE_* environment variables; the
global flags override them.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	// Global flags
	flags := cmd.PersistentFlags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.StringVar(&opts.DBPath, "db", "", "path to the local SQLite database (env ENTITYSTORE_DB)")
	flags.StringVar(&opts.RemoteURL, "remote", "", "remote backend base URL (env ENTITYSTORE_REMOTE_URL)")
	flags.DurationVar(&opts.Timeout, "timeout", 0, "remote request timeout (env ENTITYSTORE_TIMEOUT)")
	flags.StringVar(&opts.SchemaDir, "schemas", "", "directory of CUE resource schemas (env ENTITYSTORE_SCHEMA_DIR)")
	flags.StringSliceVar(&opts.LocalResources, "local", nil, "resources kept only in the local database (env ENTITYSTORE_LOCAL_RESOURCES)")

	// Add subcommands
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewCreateCommand(opts))
	cmd.AddCommand(NewUpdateCommand(opts))
	cmd.AddCommand(NewRemoveCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))
	cmd.AddCommand(NewSchemaCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// loadConfig reads the environment and applies the flags the user set.
func (o *RootOptions) loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Parse()
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.DBPath = o.DBPath
	}
	if flags.Changed("remote") {
		cfg.RemoteURL = o.RemoteURL
	}
	if flags.Changed("timeout") {
		cfg.Timeout = o.Timeout
	}
	if flags.Changed("schemas") {
		cfg.SchemaDir = o.SchemaDir
	}
	if flags.Changed("local") {
		cfg.LocalResources = o.LocalResources
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	return cfg, nil
}

// formatter builds the output formatter for cmd.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   o.Verbose,
	}
}

// newLogger builds the process logger at level, or debug when verbose.
// Records are JSON when the output format is JSON.
func (o *RootOptions) newLogger(w io.Writer, level slog.Level) *slog.Logger {
	logLevel := level
	if o.Verbose {
		logLevel = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	if o.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}
