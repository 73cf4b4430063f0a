package client

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// errStop ends a watch once --limit events were printed.
var errStop = errors.New("stop")

// NewKVCommand constructs the `kv` command group and subcommands.
func NewKVCommand() *cobra.Command {
	kvCmd := &cobra.Command{Use: "kv", Short: "Key-value operations"}
	kvCmd.AddCommand(
		newKVGetCommand(),
		newKVPutCommand(),
		newKVDeleteCommand(),
		newKVRangeCommand(),
		newKVBatchCommand(),
		newKVWatchCommand(),
	)
	return kvCmd
}

func newKVGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Read one key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := getTransport(cmd)
			if err != nil {
				return err
			}
			v, _, err := t.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]string{args[0]: v})
		},
	}
}

func newKVPutCommand() *cobra.Command {
	putCmd := &cobra.Command{
		Use:   "put <key> [value]",
		Short: "Write one key; use --file to read the value from a file (- for stdin)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			var value string
			switch {
			case len(args) == 2 && file == "":
				value = args[1]
			case len(args) == 1 && file != "":
				b, err := readValueFile(cmd, file)
				if err != nil {
					return err
				}
				value = string(b)
			default:
				return fmt.Errorf("provide exactly one of [value] or --file")
			}
			t, err := getTransport(cmd)
			if err != nil {
				return err
			}
			if err := t.Put(cmd.Context(), args[0], value); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]string{args[0]: value})
		},
	}
	putCmd.Flags().String("file", "", "Read the value from a file, or - for stdin")
	return putCmd
}

func readValueFile(cmd *cobra.Command, file string) ([]byte, error) {
	if file == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(file)
}

func newKVDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <key>",
		Aliases: []string{"del", "rm"},
		Short:   "Delete one key and print its previous value",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := getTransport(cmd)
			if err != nil {
				return err
			}
			prev, err := t.Delete(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]string{args[0]: prev})
		},
	}
}

func newKVRangeCommand() *cobra.Command {
	rangeCmd := &cobra.Command{
		Use:   "range",
		Short: "List keys in [from, to) in key order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			from, _ := cmd.Flags().GetString("from")
			to, _ := cmd.Flags().GetString("to")
			t, err := getTransport(cmd)
			if err != nil {
				return err
			}
			entries, err := t.Range(cmd.Context(), from, to)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), entries)
		},
	}
	rangeCmd.Flags().String("from", "", "Inclusive lower bound (empty = unbounded)")
	rangeCmd.Flags().String("to", "", "Exclusive upper bound (empty = unbounded)")
	return rangeCmd
}

func newKVBatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "batch <key>...",
		Short: "Read several keys at once",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := getTransport(cmd)
			if err != nil {
				return err
			}
			out, err := t.GetBatch(cmd.Context(), args)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func newKVWatchCommand() *cobra.Command {
	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream change events, one JSON object per line",
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter, _ := cmd.Flags().GetString("filter")
			limit, _ := cmd.Flags().GetInt("limit")
			t, err := getTransport(cmd)
			if err != nil {
				return err
			}
			n := 0
			err = t.Watch(cmd.Context(), filter, func(ev []byte) error {
				if _, err := fmt.Fprintln(cmd.OutOrStdout(), string(ev)); err != nil {
					return err
				}
				n++
				if limit > 0 && n >= limit {
					return errStop
				}
				return nil
			})
			if errors.Is(err, errStop) {
				return nil
			}
			return err
		},
	}
	watchCmd.Flags().String("filter", "", `CEL filter (server-side), e.g. op == "put" && key.startsWith("user/")`)
	watchCmd.Flags().Int("limit", 0, "Stop after N events (0 = infinite)")
	return watchCmd
}
