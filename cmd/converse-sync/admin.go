package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/nolan/converse/internal/api"
	"github.com/nolan/converse/internal/engine"
	"github.com/nolan/converse/internal/store"
	"github.com/nolan/converse/internal/syncdb"
)

// runAdmin executes `converse-sync admin <command>` against the
// database directly, for operators and external schedulers.
func runAdmin(args []string) {
	root := &cobra.Command{
		Use:           "admin",
		Short:         "Operational commands for the converse-sync database",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newPurgeCmd(), newDevicesCmd())
	root.SetArgs(args)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// addDBFlag registers the shared --db flag on a command's flag set.
func addDBFlag(fs *pflag.FlagSet) *string {
	return fs.String("db", "", "path to the database (default: from CONVERSE_DB_PATH or ./data/converse.db)")
}

func openAdminEngine(dbPath string) (*syncdb.DB, *engine.Engine, error) {
	if dbPath == "" {
		dbPath = api.LoadConfig().DBPath
	}
	db, err := syncdb.Open(dbPath, store.SystemClock{}, store.RandIDGen{})
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	return db, engine.New(db, db, store.SystemClock{}, quiet, engine.Config{}), nil
}

func newPurgeCmd() *cobra.Command {
	var olderThan string
	var deviceID string

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete resolved events past the retention cutoff",
		RunE: func(cmd *cobra.Command, args []string) error {
			retention := api.LoadConfig().ResolvedEventRetention
			if olderThan != "" {
				d, err := time.ParseDuration(olderThan)
				if err != nil {
					return fmt.Errorf("parse --older-than: %w", err)
				}
				retention = d
			}

			dbPath, _ := cmd.Flags().GetString("db")
			db, eng, err := openAdminEngine(dbPath)
			if err != nil {
				return err
			}
			defer db.Close()

			cutoff := time.Now().Add(-retention)
			n, err := eng.PurgeResolved(context.Background(), deviceID, cutoff)
			if err != nil {
				return err
			}
			fmt.Printf("purged %d resolved events older than %s\n", n, cutoff.UTC().Format(time.RFC3339))
			return nil
		},
	}

	addDBFlag(cmd.Flags())
	cmd.Flags().StringVar(&olderThan, "older-than", "", "retention override, e.g. 720h (default: from CONVERSE_RESOLVED_EVENT_RETENTION)")
	cmd.Flags().StringVar(&deviceID, "device", "", "limit the purge to one originating device")
	return cmd
}

func newDevicesCmd() *cobra.Command {
	var userID string
	var activeOnly bool

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List a user's registered devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("--user is required")
			}

			dbPath, _ := cmd.Flags().GetString("db")
			db, eng, err := openAdminEngine(dbPath)
			if err != nil {
				return err
			}
			defer db.Close()

			devices, err := eng.ListDevices(context.Background(), userID, activeOnly)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tKIND\tACTIVE\tLAST SYNC")
			for _, d := range devices {
				lastSync := "never"
				if d.LastSyncAt != nil {
					lastSync = d.LastSyncAt.UTC().Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n", d.ID, d.Name, d.Kind, d.Active, lastSync)
			}
			return w.Flush()
		},
	}

	addDBFlag(cmd.Flags())
	cmd.Flags().StringVar(&userID, "user", "", "user whose devices to list")
	cmd.Flags().BoolVar(&activeOnly, "active", false, "only list active devices")
	return cmd
}
