package adapter

import (
	"context"
	"errors"
	"log/slog"

	"github.com/roach88/entitystore/internal/record"
)

// Fallback selects between a remote and a local backend.
//
// Selection policy:
//   - Resources marked local-only (or every resource, when remote is nil)
//     use the local backend exclusively.
//   - Reads try remote first and fall back to local on KindConnectivity.
//   - Writes try remote first and are persisted locally only on
//     KindConnectivity, never after a validation rejection.
//   - Successful remote results are mirrored into local best-effort.
type Fallback struct {
	remote    Adapter
	local     Durable
	localOnly map[string]bool
	logger    *slog.Logger
}

// FallbackOption configures a Fallback.
type FallbackOption func(*Fallback)

// WithLocalOnly marks resources that have no remote endpoint.
func WithLocalOnly(resources ...string) FallbackOption {
	return func(f *Fallback) {
		for _, r := range resources {
			f.localOnly[r] = true
		}
	}
}

// WithLogger sets the logger used to report fallbacks and mirror failures.
// Default: slog.Default().
func WithLogger(logger *slog.Logger) FallbackOption {
	return func(f *Fallback) {
		f.logger = logger
	}
}

// NewFallback combines remote and local. remote may be nil.
func NewFallback(remote Adapter, local Durable, opts ...FallbackOption) *Fallback {
	f := &Fallback{
		remote:    remote,
		local:     local,
		localOnly: map[string]bool{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Fallback) useLocal(resource string) bool {
	return f.remote == nil || f.localOnly[resource]
}

// List reads resource, falling back to the local snapshot when the remote
// is unreachable. Fails with KindConnectivity only if both are unreachable.
func (f *Fallback) List(ctx context.Context, resource string) ([]record.Record, error) {
	if f.useLocal(resource) {
		return f.local.List(ctx, resource)
	}

	records, err := f.remote.List(ctx, resource)
	if err == nil {
		if mirrorErr := f.local.Replace(ctx, resource, records); mirrorErr != nil {
			f.logger.Warn("mirror list failed", "resource", resource, "error", mirrorErr)
		}
		return records, nil
	}
	if !IsConnectivity(err) {
		return nil, err
	}

	f.logger.Warn("remote unreachable, reading local snapshot", "resource", resource, "error", err)
	records, localErr := f.local.List(ctx, resource)
	if localErr != nil {
		return nil, NewConnectivityError(resource, "no backend reachable", errors.Join(err, localErr))
	}
	return records, nil
}

// Create writes partial remotely, or locally when the remote is unreachable.
func (f *Fallback) Create(ctx context.Context, resource string, partial record.Fields) (record.Record, error) {
	if f.useLocal(resource) {
		return f.local.Create(ctx, resource, partial)
	}

	rec, err := f.remote.Create(ctx, resource, partial)
	if err == nil {
		f.mirrorPut(ctx, resource, rec)
		return rec, nil
	}
	if !IsConnectivity(err) {
		return record.Record{}, err
	}

	f.logger.Warn("remote unreachable, creating locally", "resource", resource, "error", err)
	return f.local.Create(ctx, resource, partial)
}

// Update patches id remotely, or locally when the remote is unreachable.
func (f *Fallback) Update(ctx context.Context, resource string, id record.ID, patch record.Fields) (record.Record, error) {
	if f.useLocal(resource) {
		return f.local.Update(ctx, resource, id, patch)
	}

	rec, err := f.remote.Update(ctx, resource, id, patch)
	if err == nil {
		f.mirrorPut(ctx, resource, rec)
		return rec, nil
	}
	if !IsConnectivity(err) {
		return record.Record{}, err
	}

	f.logger.Warn("remote unreachable, updating locally", "resource", resource, "id", id.String(), "error", err)
	return f.local.Update(ctx, resource, id, patch)
}

// Remove deletes id remotely, or locally when the remote is unreachable.
func (f *Fallback) Remove(ctx context.Context, resource string, id record.ID) error {
	if f.useLocal(resource) {
		return f.local.Remove(ctx, resource, id)
	}

	err := f.remote.Remove(ctx, resource, id)
	if err == nil {
		if mirrorErr := f.local.Remove(ctx, resource, id); mirrorErr != nil {
			f.logger.Warn("mirror remove failed", "resource", resource, "id", id.String(), "error", mirrorErr)
		}
		return nil
	}
	if !IsConnectivity(err) {
		return err
	}

	f.logger.Warn("remote unreachable, removing locally", "resource", resource, "id", id.String(), "error", err)
	return f.local.Remove(ctx, resource, id)
}

func (f *Fallback) mirrorPut(ctx context.Context, resource string, rec record.Record) {
	if err := f.local.Put(ctx, resource, rec); err != nil {
		f.logger.Warn("mirror write failed", "resource", resource, "id", rec.ID.String(), "error", err)
	}
}
