package client

import (
	"os"

	"github.com/spf13/cobra"
)

// AddPersistentFlags registers the connection flags shared by every client
// command on cmd.
func AddPersistentFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("transport", "http", "Transport: http|grpc")
	cmd.PersistentFlags().String("url", "", "HTTP base URL (default $KVDB_HTTP_URL or "+defaultHTTPURL+")")
	cmd.PersistentFlags().String("grpc", "", "gRPC address (default $KVDB_GRPC or "+defaultGRPCAddr+")")
	cmd.PersistentFlags().String("api-key", os.Getenv("KVDB_API_KEY"), "API key sent as a bearer token")
}

// NewRoot constructs a root Cobra command for the kvdb client.
// It registers the kv and admin command groups.
func NewRoot() *cobra.Command {
	root := &cobra.Command{
		Use:   "kvdb",
		Short: "kvdb client commands",
	}
	AddPersistentFlags(root)
	root.AddCommand(NewKVCommand())
	root.AddCommand(NewAdminCommand())
	return root
}
