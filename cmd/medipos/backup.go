package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"medipos/m/internal/backup"
)

func backupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create, inspect and restore backups",
	}
	cmd.AddCommand(backupCreateCmd())
	cmd.AddCommand(backupListCmd())
	cmd.AddCommand(backupVerifyCmd())
	cmd.AddCommand(backupRestoreCmd())
	cmd.AddCommand(backupCleanupCmd())
	return cmd
}

// withApp runs fn against a freshly opened app and closes it afterwards.
func withApp(fn func(ctx context.Context, a *app) error) error {
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(ctx)
	return fn(ctx, a)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func backupCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a backup and wait for it to finish",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := backup.DefaultCreateOptions()
			opts.Name, _ = cmd.Flags().GetString("name")
			opts.Collections, _ = cmd.Flags().GetStringSlice("collections")
			noArchive, _ := cmd.Flags().GetBool("no-archive")
			opts.CreateArchive = !noArchive
			noSettings, _ := cmd.Flags().GetBool("no-settings")
			opts.IncludeSettings = !noSettings
			if desc, _ := cmd.Flags().GetString("description"); desc != "" {
				opts.Description = &desc
			}
			return withApp(func(ctx context.Context, a *app) error {
				info, err := a.backups.Create(ctx, opts)
				if err != nil {
					return err
				}
				return printJSON(info)
			})
		},
	}
	cmd.Flags().String("name", "", "Backup name")
	cmd.Flags().String("description", "", "Backup description")
	cmd.Flags().StringSlice("collections", nil, "Collections to include (default all)")
	cmd.Flags().Bool("no-archive", false, "Store files individually instead of one archive")
	cmd.Flags().Bool("no-settings", false, "Leave the settings out")
	return cmd
}

func backupListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List backups, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				infos, err := a.backups.List(ctx)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tSIZE\tCREATED AT")
				for _, b := range infos {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", b.ID, b.Name, b.Status, b.FileSize, b.CreatedAt)
				}
				return tw.Flush()
			})
		},
	}
}

func backupVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <backup-id>",
		Short: "Check a backup's artifact against its checksum",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				res, err := a.backups.Verify(ctx, args[0])
				if err != nil {
					return err
				}
				if err := printJSON(res); err != nil {
					return err
				}
				if !res.Valid {
					return fmt.Errorf("backup %s is corrupted", args[0])
				}
				return nil
			})
		},
	}
}

func backupRestoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore <backup-id>",
		Short: "Restore a backup into the configured store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := backup.DefaultRestoreOptions()
			opts.Collections, _ = cmd.Flags().GetStringSlice("collections")
			opts.ForceRestore, _ = cmd.Flags().GetBool("force")
			noSettings, _ := cmd.Flags().GetBool("no-settings")
			opts.RestoreSettings = !noSettings
			return withApp(func(ctx context.Context, a *app) error {
				res, err := a.backups.Restore(ctx, args[0], opts)
				if err != nil {
					return err
				}
				return printJSON(res)
			})
		},
	}
	cmd.Flags().StringSlice("collections", nil, "Collections to restore (default all in the backup)")
	cmd.Flags().Bool("force", false, "Merge by id instead of replacing collections")
	cmd.Flags().Bool("no-settings", false, "Leave the current settings in place")
	return cmd
}

func backupCleanupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete backups older than --days",
		RunE: func(cmd *cobra.Command, args []string) error {
			days, _ := cmd.Flags().GetInt("days")
			return withApp(func(ctx context.Context, a *app) error {
				res, err := a.backups.Cleanup(ctx, days)
				if err != nil {
					return err
				}
				return printJSON(res)
			})
		},
	}
	cmd.Flags().Int("days", 30, "Days of backups to keep")
	return cmd
}
