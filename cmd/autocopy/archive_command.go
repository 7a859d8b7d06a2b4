package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"autocopy/internal/archive"
	"autocopy/internal/logging"
)

func newArchiveCommand() *cobra.Command {
	var opts archive.Options
	var verbose bool

	cmd := &cobra.Command{
		Use:         "archive [flags] RUN_DIR...",
		Short:       "Create .tar.gz archives of run directories",
		Long:        "Create <run>.tar.gz for each run directory. The exit status is the number of run directories that failed.",
		Args:        cobra.MinimumNArgs(1),
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			level := "warn"
			if verbose {
				level = "info"
			}
			logger, err := logging.New(logging.Options{Level: level, Format: "console", OutputPaths: []string{"stderr"}})
			if err != nil {
				return err
			}

			results, failed := archive.New(opts, logger).ArchiveAll(cmd.Context(), args)
			out := cmd.OutOrStdout()
			for _, res := range results {
				if res.Err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s failed: %v\n", res.RunDir, res.Err)
					continue
				}
				fmt.Fprintf(out, "%s -> %s (%d files)\n", res.RunDir, res.Tarball, res.Files)
			}
			if failed > 0 {
				return exitError{code: failed}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.DestDir, "dest-dir", "d", "", "Directory for the tarballs (default: each run directory's parent)")
	cmd.Flags().BoolVarP(&opts.DeleteAfter, "delete-after", "a", false, "Delete the run directory after the tarball is written")
	cmd.Flags().BoolVarP(&opts.SkipFileCheck, "skip-file-check", "f", false, "Skip checking the tarball against the run directory")
	cmd.Flags().BoolVar(&opts.IncludeCIF, "cif", false, "Include intensity (.cif) files")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log progress to stderr")
	return cmd
}
