package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"autocopy/internal/logging"
	"autocopy/internal/notifications"
	"autocopy/internal/preflight"
)

// housekeeping runs the summary and free-space checks, each on its own timer.
func (m *Manager) housekeeping(ctx context.Context) {
	now := m.now()
	if m.lastSummary.IsZero() || now.Sub(m.lastSummary) >= m.cfg.SummaryInterval() {
		m.sendSummary(ctx)
	}
	if m.lastFreespace.IsZero() || now.Sub(m.lastFreespace) >= m.cfg.FreespaceCheckInterval() {
		m.checkFreeSpace(ctx)
	}
}

func (m *Manager) checkFreeSpace(ctx context.Context) {
	minimum := m.cfg.MinFreeSpaceBytes()
	for _, root := range m.cfg.Paths.RunRoots {
		free, err := m.freeSpace(root)
		if err != nil {
			logging.WarnWithContext(m.logger, "free space check failed", "freespace_failed",
				logging.String(logging.FieldRoot, root),
				logging.Error(err),
			)
			continue
		}
		if free < minimum {
			logging.WarnWithContext(m.logger, "run root low on free space", "freespace_low",
				logging.String(logging.FieldRoot, root),
				logging.String("free", preflight.FormatGB(free)),
				logging.String("minimum", preflight.FormatGB(minimum)),
				logging.String(logging.FieldImpact, "new runs may fail to write"),
			)
			m.send(ctx, lowFreeSpaceMessage(root, free, minimum))
		}
	}
	m.lastFreespace = m.now()
}

func (m *Manager) sendSummary(ctx context.Context) {
	since := m.lastSummary
	m.send(ctx, notifications.Message{
		Subject:  "Run status summary",
		Body:     m.SummaryText(ctx, since),
		Priority: notifications.PriorityLow,
	})
	m.lastSummary = m.now()
}

// SummaryText renders, per run root, every tracked run with its phase and the
// root's free space. Ledger activity since the given time is appended when a
// ledger is attached.
func (m *Manager) SummaryText(ctx context.Context, since time.Time) string {
	statuses := m.Runs()
	var b strings.Builder
	for _, root := range m.cfg.Paths.RunRoots {
		fmt.Fprintf(&b, "%s\n\n", root)

		tw := table.NewWriter()
		tw.SetStyle(table.StyleLight)
		tw.AppendHeader(table.Row{"Run", "Status", "Copy started"})
		for _, st := range statuses {
			if st.Root != root {
				continue
			}
			started := ""
			if !st.StartedAt.IsZero() {
				started = st.StartedAt.Format("2006-01-02 15:04")
			}
			tw.AppendRow(table.Row{st.Name, st.Phase.String(), started})
		}
		b.WriteString(tw.Render())
		b.WriteString("\n\n")

		if free, err := m.freeSpace(root); err == nil {
			fmt.Fprintf(&b, "\t%s free\n\n", preflight.FormatGB(free))
		} else {
			fmt.Fprintf(&b, "\tfree space unknown: %v\n\n", err)
		}
	}

	if m.history != nil && !since.IsZero() {
		stats, err := m.history.StatsSince(ctx, since)
		if err != nil {
			logging.WarnWithContext(m.logger, "ledger stats unavailable for summary", "ledger_read_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "summary omits transfer history"),
			)
		} else {
			fmt.Fprintf(&b, "Since %s: %d copies launched, %d succeeded, %d failed, %d restarted after stalling; %d runs completed, %d aborted\n",
				since.Format("2006-01-02 15:04"),
				stats.Launched, stats.Succeeded, stats.Failed, stats.Stalled, stats.Completed, stats.Aborted)
		}
	}
	return b.String()
}
