package client

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// NewAdminCommand constructs the `admin` command group.
func NewAdminCommand() *cobra.Command {
	adminCmd := &cobra.Command{Use: "admin", Short: "Server administration"}
	adminCmd.AddCommand(newAdminStatsCommand(), newAdminBackupCommand(), newAdminHealthCommand())
	return adminCmd
}

func newAdminStatsCommand() *cobra.Command {
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show engine statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			human, _ := cmd.Flags().GetBool("human")
			t, err := getTransport(cmd)
			if err != nil {
				return err
			}
			stats, err := t.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if !human {
				return printJSON(cmd.OutOrStdout(), stats)
			}
			keys := make([]string, 0, len(stats))
			for k := range stats {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%-28s %s\n", k, humanValue(k, stats[k]))
			}
			return nil
		},
	}
	statsCmd.Flags().Bool("human", false, "Print a sorted table with human-readable sizes")
	return statsCmd
}

// humanValue renders byte-sized counters with SI units and large counts
// with separators.
func humanValue(key string, v any) string {
	f, ok := v.(float64)
	if !ok {
		return fmt.Sprint(v)
	}
	if isByteStat(key) && f >= 0 {
		return humanize.Bytes(uint64(f))
	}
	if f == float64(int64(f)) {
		return humanize.Comma(int64(f))
	}
	return humanize.Commaf(f)
}

func isByteStat(key string) bool {
	for _, s := range []string{"bytes", "size", "disk_space"} {
		if strings.Contains(key, s) {
			return true
		}
	}
	return false
}

func newAdminBackupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Run a backup now",
		RunE: func(cmd *cobra.Command, _ []string) error {
			t, err := getTransport(cmd)
			if err != nil {
				return err
			}
			res, err := t.Backup(cmd.Context())
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if res.UploadError != "" {
				return fmt.Errorf("upload failed, archive kept: %s", res.UploadError)
			}
			return nil
		},
	}
}

func newAdminHealthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE: func(cmd *cobra.Command, _ []string) error {
			t, err := getTransport(cmd)
			if err != nil {
				return err
			}
			if err := t.Health(cmd.Context()); err != nil {
				return fmt.Errorf("not serving: %w", err)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "status:", "OK")
			return nil
		},
	}
}
