package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/entitystore/internal/entity"
	"github.com/roach88/entitystore/internal/record"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Interval time.Duration // refresh period; 0 disables polling
	Count    int           // stop after this many snapshots; 0 runs until interrupted
}

// SnapshotView is the printed form of a snapshot.
type SnapshotView struct {
	Resource   string          `json:"resource"`
	Generation int64           `json:"generation"`
	Loading    bool            `json:"loading"`
	Error      string          `json:"error,omitempty"`
	Digest     string          `json:"digest"`
	Records    []record.Record `json:"records"`
}

// errWatchDone stops Watch once Count snapshots were printed.
var errWatchDone = errors.New("watch: count reached")

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch <resource>",
		Short: "Print every snapshot of a resource",
		Long: `Subscribe to a resource and print each snapshot as it is published.

With --interval the resource is refreshed periodically, so changes made by
other writers show up. Stops on Ctrl-C or after --count snapshots.

Example:
  entitystore watch tasks --remote http://localhost:8080 --interval 5s
  entitystore watch tasks --count 1 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, args[0], cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.Interval, "interval", 0, "refresh period (0 disables polling)")
	cmd.Flags().IntVar(&opts.Count, "count", 0, "exit after printing this many snapshots")
	return cmd
}

func runWatch(opts *WatchOptions, resource string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	if opts.Count < 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("count must be non-negative, got %d", opts.Count))
	}

	b, err := openCommandBackend(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer closeBackend(b)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The first snapshot printed is the loaded one, never the loading placeholder.
	store, err := b.load(ctx, resource)
	if err != nil {
		return formatter.Failure("watch failed", err)
	}

	if opts.Interval > 0 {
		go poll(ctx, store, opts.Interval)
	}

	printed := 0
	err = store.Watch(ctx, func(snap *entity.Snapshot) error {
		if err := formatter.Success(viewOf(snap)); err != nil {
			return err
		}
		printed++
		if opts.Count > 0 && printed >= opts.Count {
			return errWatchDone
		}
		return nil
	})
	switch {
	case err == nil, errors.Is(err, errWatchDone), errors.Is(err, context.Canceled):
		return nil
	default:
		return WrapExitError(ExitFailure, "watch failed", err)
	}
}

// poll refreshes store every interval until ctx is done.
func poll(ctx context.Context, store *entity.Store, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			store.Invalidate()
		}
	}
}

func viewOf(snap *entity.Snapshot) SnapshotView {
	v := SnapshotView{
		Resource:   snap.Resource,
		Generation: snap.Generation,
		Loading:    snap.Loading,
		Records:    snap.Records,
	}
	if snap.Err != nil {
		v.Error = snap.Err.Error()
	}
	if digest, err := snap.Digest(); err == nil {
		v.Digest = digest
	}
	return v
}

// String renders the text form: a header line, then one record per line.
func (v SnapshotView) String() string {
	header := fmt.Sprintf("# %s generation=%d loading=%t records=%d", v.Resource, v.Generation, v.Loading, len(v.Records))
	if v.Error != "" {
		header += " error=" + fmt.Sprintf("%q", v.Error)
	}
	out := header
	for _, rec := range v.Records {
		data, err := record.MarshalCanonical(rec)
		if err != nil {
			continue
		}
		out += "\n" + string(data)
	}
	return out
}
