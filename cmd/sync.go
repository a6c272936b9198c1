package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/teemow/mailmirror/internal/logging"
	"github.com/teemow/mailmirror/internal/mailbox"
	"github.com/teemow/mailmirror/internal/syncer"
)

func newSyncCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
		full       bool
		folder     string
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync the local cache once and exit",
		Long: `Connect to the Bridge, run one sync round and save the cache snapshot.
Without --folder every folder is synced. Incremental sync is the default;
--full re-reads the folder and drops messages that vanished on the server.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			envString(cmd, "config", "MAILMIRROR_CONFIG", &configPath)
			mode := mailbox.SyncIncremental
			if full {
				mode = mailbox.SyncFull
			}
			return runSync(cmd.OutOrStdout(), configPath, debug, folder, mode)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to the YAML config file")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")
	cmd.Flags().BoolVar(&full, "full", false, "Run a full sync instead of an incremental one")
	cmd.Flags().StringVar(&folder, "folder", "", "Sync only this folder")

	return cmd
}

func runSync(out io.Writer, configPath string, debug bool, folder string, mode mailbox.SyncMode) (err error) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := openApp(ctx, configPath, debug, nil)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.engine.Close(context.Background()); cerr != nil {
			a.logger.Warn("failed to close engine", logging.Err(cerr))
		}
	}()

	if err := a.engine.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	var results []syncer.Result
	if folder != "" {
		res, serr := a.engine.SyncFolder(ctx, folder, mode)
		results, err = []syncer.Result{res}, serr
	} else {
		results, err = a.engine.SyncAll(ctx, mode)
	}
	if werr := writeSyncResults(out, results); werr != nil {
		return werr
	}
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}
	return nil
}

func writeSyncResults(out io.Writer, results []syncer.Result) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "FOLDER\tMODE\tSTATE\tADDED\tUPDATED\tREMOVED")
	for _, r := range results {
		if r.Folder == "" {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\n", r.Folder, r.Mode, r.State, r.Added, r.Updated, r.Removed)
	}
	return w.Flush()
}
