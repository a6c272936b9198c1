package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command for the mailmirror application
var rootCmd = &cobra.Command{
	Use:   "mailmirror",
	Short: "Cached MCP access to a Proton Mail mailbox",
	Long: `mailmirror mirrors a Proton Mail mailbox, reached through Proton Mail
Bridge over IMAP, into a local cache and exposes it to AI assistants as an
MCP (Model Context Protocol) server.

It can run as:
  - An MCP server (default)
  - A one-shot sync of the local cache
  - A helper that stores the Bridge password in the system keyring`,
	SilenceUsage: true,
}

// version will be set by main
var version = "dev"

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "mailmirror version %s\n" .Version}}`)

	// Without a subcommand the MCP server is started.
	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newSyncCmd())
	rootCmd.AddCommand(newLoginCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newGenerateDocsCmd())
}
