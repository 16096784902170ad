package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/entitystore/internal/record"
)

// MutateOptions holds flags for create and update.
type MutateOptions struct {
	*RootOptions
	Data string // JSON object
}

// NewCreateCommand creates the create command.
func NewCreateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MutateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "create <resource>",
		Short: "Create a record",
		Long: `Create a record from a JSON object and print the persisted record.

The backend assigns the id unless the object carries one.

Example:
  entitystore create tasks --data '{"title":"buy milk"}'
  entitystore create tasks --data '{"id":42,"title":"water plants"}'`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreate(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Data, "data", "{}", "record fields as a JSON object")
	return cmd
}

// NewUpdateCommand creates the update command.
func NewUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MutateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "update <resource> <id>",
		Short: "Shallow-merge a patch into a record",
		Long: `Merge a JSON object into an existing record and print the result.

Ids that are canonical decimal integers are numeric ids; anything else is
a string id.

Example:
  entitystore update tasks 42 --data '{"done":true}'`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpdate(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Data, "data", "", "patch as a JSON object (required)")
	_ = cmd.MarkFlagRequired("data")
	return cmd
}

// NewRemoveCommand creates the remove command.
func NewRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <resource> <id>",
		Short: "Remove a record",
		Long: `Remove a record. Removing an id the backend does not have succeeds.

Example:
  entitystore remove tasks 42`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemove(rootOpts, args[0], args[1], cmd)
		},
	}
	return cmd
}

func runCreate(opts *MutateOptions, resource string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	fields, err := parseData(opts.Data)
	if err != nil {
		return err
	}

	b, err := openCommandBackend(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer closeBackend(b)

	store, err := b.load(cmd.Context(), resource)
	if err != nil {
		return formatter.Failure("create failed", err)
	}
	rec, err := store.Create(cmd.Context(), fields)
	if err != nil {
		return formatter.Failure("create failed", err)
	}
	return formatter.Record(rec)
}

func runUpdate(opts *MutateOptions, resource, rawID string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	patch, err := parseData(opts.Data)
	if err != nil {
		return err
	}

	b, err := openCommandBackend(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer closeBackend(b)

	store, err := b.load(cmd.Context(), resource)
	if err != nil {
		return formatter.Failure("update failed", err)
	}
	rec, err := store.Update(cmd.Context(), record.ParsePathID(rawID), patch)
	if err != nil {
		return formatter.Failure("update failed", err)
	}
	return formatter.Record(rec)
}

func runRemove(opts *RootOptions, resource, rawID string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	b, err := openCommandBackend(opts, cmd)
	if err != nil {
		return err
	}
	defer closeBackend(b)

	store, err := b.load(cmd.Context(), resource)
	if err != nil {
		return formatter.Failure("remove failed", err)
	}
	id := record.ParsePathID(rawID)
	if err := store.Remove(cmd.Context(), id); err != nil {
		return formatter.Failure("remove failed", err)
	}
	return formatter.Success(fmt.Sprintf("removed %s/%s", resource, id))
}

// parseData decodes a --data flag value.
func parseData(data string) (record.Fields, error) {
	m, err := record.DecodeObject([]byte(data))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid --data", err)
	}
	return record.Fields(m), nil
}
