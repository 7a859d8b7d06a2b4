package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"autocopy/internal/config"
	"autocopy/internal/daemon"
	"autocopy/internal/ledger"
)

const historyTimeLayout = "2006-01-02 15:04"

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon state and recent transfer history",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			st, err := daemon.Inspect(cfg)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Daemon:  %s\n", describeDaemon(st))
			fmt.Fprintf(out, "Lock:    %s\n", st.LockPath)
			fmt.Fprintf(out, "Ledger:  %s\n", cfg.LedgerPath())
			return printHistory(cmd, out, cfg, limit)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Number of attempts and moves to list")
	return cmd
}

func describeDaemon(st daemon.Status) string {
	switch {
	case st.Running:
		return fmt.Sprintf("running (pid %d)", st.PID)
	case st.PID != 0:
		return fmt.Sprintf("not running (stale pid file for %d)", st.PID)
	default:
		return "not running"
	}
}

func printHistory(cmd *cobra.Command, out io.Writer, cfg *config.Config, limit int) error {
	if _, err := os.Stat(cfg.LedgerPath()); errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(out, "\nNo transfer history recorded")
		return nil
	}
	store, err := ledger.Open(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	attempts, err := store.RecentAttempts(cmd.Context(), limit)
	if err != nil {
		return err
	}
	moves, err := store.RecentMoves(cmd.Context(), limit)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "\nRecent transfers")
	if len(attempts) == 0 {
		fmt.Fprintln(out, "  none")
	} else {
		rows := make([][]string, 0, len(attempts))
		for _, a := range attempts {
			rows = append(rows, []string{
				a.RunName,
				string(a.Outcome),
				a.StartedAt.Local().Format(historyTimeLayout),
				formatElapsed(a.Duration()),
				strconv.Itoa(a.PID),
				formatExitCode(a.ExitCode),
			})
		}
		fmt.Fprintln(out, renderTable(out,
			[]string{"Run", "Outcome", "Started", "Duration", "PID", "Exit"},
			rows,
			[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight},
		))
	}

	fmt.Fprintln(out, "\nRecent moves")
	if len(moves) == 0 {
		fmt.Fprintln(out, "  none")
		return nil
	}
	rows := make([][]string, 0, len(moves))
	for _, m := range moves {
		rows = append(rows, []string{m.RunName, string(m.Kind), m.MovedAt.Local().Format(historyTimeLayout), m.To})
	}
	fmt.Fprintln(out, renderTable(out, []string{"Run", "Kind", "Moved", "Destination"}, rows, nil))
	return nil
}

func formatElapsed(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(time.Second).String()
}

func formatExitCode(code *int) string {
	if code == nil {
		return "-"
	}
	return strconv.Itoa(*code)
}

func newSummaryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Ask the running daemon to send a status summary now",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			pid, err := daemon.RequestSummary(cfg)
			if errors.Is(err, daemon.ErrNotRunning) {
				return fmt.Errorf("%w; start it with `autocopy run`", err)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Requested status summary from daemon (pid %d)\n", pid)
			return nil
		},
	}
}
