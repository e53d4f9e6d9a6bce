package main

import (
	"fmt"
	"text/tabwriter"

	humanize "github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func buildFilesCmd(opts *options) *cobra.Command {
	var pending bool
	cmd := &cobra.Command{
		Use:   "files",
		Short: "List downloaded files, or unfinished downloads with --pending",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts.cfg, opts.log, false)
			if err != nil {
				return err
			}
			defer a.Close()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			defer tw.Flush()
			if pending {
				rows, err := a.svc.CurrentDownloads()
				if err != nil {
					return err
				}
				fmt.Fprintln(tw, "FILE\tSTATUS\tPROGRESS\tERROR")
				for _, p := range rows {
					fmt.Fprintf(tw, "%s\t%s\t%.1f%%\t%s\n", p.File.ID, p.Status, p.Progress, p.Error)
				}
				return nil
			}
			files, err := a.svc.DownloadedFiles()
			if err != nil {
				return err
			}
			fmt.Fprintln(tw, "FILE\tSIZE\tDOWNLOADED\tPATH")
			for _, f := range files {
				when := ""
				if f.File.DownloadedAt != nil {
					when = humanize.Time(*f.File.DownloadedAt)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", f.File.ID, humanize.Bytes(uint64(f.File.FileSize)), when, f.File.DownloadedPath)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&pending, "pending", false, "List unfinished downloads instead")
	return cmd
}

func buildRmCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <file-id>...",
		Short: "Delete downloaded files or cancel unfinished downloads",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts.cfg, opts.log, false)
			if err != nil {
				return err
			}
			defer a.Close()
			for _, id := range args {
				if err := a.svc.DeleteFile(id); err != nil {
					return fmt.Errorf("%s: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", id)
			}
			return nil
		},
	}
}
