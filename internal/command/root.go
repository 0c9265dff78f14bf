// Package command implements the studiovault command line.
package command

import (
	"os"

	"github.com/spf13/cobra"
)

const AppName = "studiovault"

// Version is overwritten at build time using -ldflags.
var Version = "dev"

// NewRootCmd builds the command tree.
func NewRootCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           AppName,
		Short:         "Local-first synchronized collections of generated images",
		Long:          "studiovault keeps history and favorites collections usable offline and reconciles them with a remote store.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.Version = version
	cmd.SetVersionTemplate(AppName + " version {{.Version}}\n")
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.PersistentFlags().String("config", "", "config file (default <user config dir>/studiovault/config.yaml)")
	cmd.PersistentFlags().Bool("offline", false, "do not contact the remote store")
	cmd.PersistentFlags().StringP("collection", "c", "favorites", "collection to operate on")
	cmd.PersistentFlags().Bool("json", false, "output in JSON format")

	cmd.AddCommand(
		NewAddCmd(),
		NewListCmd(),
		NewSearchCmd(),
		NewGetCmd(),
		NewImagesCmd(),
		NewRmCmd(),
		NewTagCmd(),
		NewClearCmd(),
		NewSyncCmd(),
		NewFlushCmd(),
		NewStatusCmd(),
		NewServeCmd(),
		NewConfigCmd(),
	)

	return cmd
}
