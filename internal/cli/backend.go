package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/entitystore/internal/adapter"
	"github.com/roach88/entitystore/internal/config"
	"github.com/roach88/entitystore/internal/entity"
	"github.com/roach88/entitystore/internal/schema"
)

// shutdownTimeout bounds how long a command waits for in-flight writes.
const shutdownTimeout = 5 * time.Second

// backend is the adapter stack a command talks to.
type backend struct {
	local    *adapter.Local
	adapter  adapter.Adapter
	registry *entity.Registry
	schemas  *schema.Set
	logger   *slog.Logger
}

// openLocal opens the SQLite database, validating against the schemas in
// cfg.SchemaDir when one is configured.
func openLocal(cfg config.Config, logger *slog.Logger) (*adapter.Local, *schema.Set, error) {
	var opts []adapter.LocalOption
	var set *schema.Set
	if cfg.SchemaDir != "" {
		s, err := schema.Load(cfg.SchemaDir)
		if err != nil {
			return nil, nil, WrapExitError(ExitCommandError, "failed to load schemas", err)
		}
		logger.Debug("schemas loaded", "dir", cfg.SchemaDir, "resources", s.Resources())
		opts = append(opts, adapter.WithValidator(s))
		set = s
	}

	local, err := adapter.OpenLocal(cfg.DBPath, opts...)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	logger.Debug("database ready", "path", cfg.DBPath)
	return local, set, nil
}

// openBackend wires the adapter stack for cfg: the local database alone,
// or the remote with the local database as fallback and mirror.
func openBackend(cfg config.Config, logger *slog.Logger) (*backend, error) {
	local, set, err := openLocal(cfg, logger)
	if err != nil {
		return nil, err
	}

	var remote adapter.Adapter
	if cfg.RemoteURL != "" {
		r, err := adapter.NewRemote(cfg.RemoteURL, adapter.WithTimeout(cfg.Timeout))
		if err != nil {
			local.Close()
			return nil, WrapExitError(ExitCommandError, "invalid remote", err)
		}
		remote = r
		logger.Debug("remote configured", "url", cfg.RemoteURL, "timeout", cfg.Timeout)
	}

	a := adapter.NewFallback(remote, local,
		adapter.WithLocalOnly(cfg.LocalResources...),
		adapter.WithLogger(logger),
	)
	return &backend{
		local:    local,
		adapter:  a,
		registry: entity.NewRegistry(a, entity.WithLogger(logger)),
		schemas:  set,
		logger:   logger,
	}, nil
}

// openCommandBackend loads the config for cmd and opens its backend.
func openCommandBackend(opts *RootOptions, cmd *cobra.Command) (*backend, error) {
	cfg, err := opts.loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return openBackend(cfg, opts.newLogger(cmd.ErrOrStderr(), slog.LevelWarn))
}

// Close waits for in-flight writes and closes the database.
func (b *backend) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := b.registry.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := b.local.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close database: %w", err))
	}
	return errors.Join(errs...)
}

// load acquires resource and waits for its first fetch.
func (b *backend) load(ctx context.Context, resource string) (*entity.Store, error) {
	store, err := b.registry.Acquire(resource)
	if err != nil {
		return nil, err
	}
	select {
	case <-store.Loaded():
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return store, nil
}

// closeBackend closes b, logging instead of masking the command's result.
func closeBackend(b *backend) {
	if err := b.Close(); err != nil {
		b.logger.Error("error closing backend", "error", err)
	}
}
