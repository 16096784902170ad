package cli

import (
	"github.com/spf13/cobra"
)

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <resource>",
		Short: "Print the records of a resource",
		Long: `Fetch a resource and print its records in backend order.

Text output prints one canonical JSON record per line.

Example:
  entitystore list tasks
  entitystore list tasks --remote http://localhost:8080 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runList(opts *RootOptions, resource string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	b, err := openCommandBackend(opts, cmd)
	if err != nil {
		return err
	}
	defer closeBackend(b)

	store, err := b.load(cmd.Context(), resource)
	if err != nil {
		return formatter.Failure("list failed", err)
	}

	snap := store.Snapshot()
	if snap.Err != nil {
		return formatter.Failure("list failed", snap.Err)
	}
	if digest, err := snap.Digest(); err == nil {
		formatter.VerboseLog("%s: %d record(s), generation %d, digest %s", resource, snap.Len(), snap.Generation, digest)
	}
	return formatter.Records(snap.Records)
}
