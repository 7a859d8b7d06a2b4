package workflow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alecthomas/units"

	"autocopy/internal/logging"
	"autocopy/internal/notifications"
	"autocopy/internal/preflight"
	"autocopy/internal/transfer"
)

// send delivers a message. Delivery failures are logged and never returned.
func (m *Manager) send(ctx context.Context, msg notifications.Message) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.Send(ctx, msg); err != nil {
		if errors.Is(err, context.Canceled) {
			m.logger.Debug("daemon shutting down, notification not sent", logging.String("subject", msg.Subject))
			return
		}
		logging.WarnWithContext(m.logger, "notification delivery failed", "notification_failed",
			logging.String("subject", msg.Subject),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check notifications settings"),
			logging.String(logging.FieldImpact, "operator was not notified"),
		)
	}
}

func (m *Manager) hostname() string {
	return notifications.ShortHostname()
}

func startedMessage() notifications.Message {
	return notifications.Message{
		Subject: "Daemon Started",
		Body: "The Autocopy Daemon was started.\n\n" +
			"You should receive a message with a summary of active run directories soon.",
	}
}

func stoppedMessage() notifications.Message {
	return notifications.Message{
		Subject: "Daemon Stopped",
		Body:    "The Autocopy Daemon received a kill signal and is shutting down.\n\n",
	}
}

func exceptionMessage(err error) notifications.Message {
	return notifications.Message{
		Subject:  "Autocopy unknown exception",
		Body:     "The autocopy daemon failed with Exception\n" + err.Error(),
		Priority: notifications.PriorityHigh,
	}
}

func abortedMessage(name, dest, abortedSubdir string) notifications.Message {
	var b strings.Builder
	b.WriteString("The following run was flagged as 'sequencing failed' in the LIMS:\n\n")
	fmt.Fprintf(&b, "\t%s\n\n", name)
	fmt.Fprintf(&b, "It has been moved to this directory:\t%s\n\n", dest)
	fmt.Fprintf(&b, "If this was an error, please correct the sequencing status in the LIMS and manually move the run out of the %s folder.\n\n", abortedSubdir)
	b.WriteString("Otherwise, this run may be safely deleted to free up disk space.")
	return notifications.Message{
		Subject:  "Run Directory Aborted: " + name,
		Body:     b.String(),
		Priority: notifications.PriorityHigh,
	}
}

func copyFailedMessage(run *Run, req transfer.Request, host string, code int) notifications.Message {
	var b strings.Builder
	b.WriteString("Please try to resolve the error. Autocopy will continue attempting to copy as long as the run remains in the run_root directory.\n\n")
	fmt.Fprintf(&b, "Run:\t\t\t%s\n", run.Name)
	fmt.Fprintf(&b, "Original Location:\t%s:%s\n", host, run.Path())
	b.WriteString("\n")
	fmt.Fprintf(&b, "FAILED TO COPY to:\t%s:%s\n", req.DestHost, req.RemoteRunPath())
	fmt.Fprintf(&b, "Return code:\t%d\n", code)
	return notifications.Message{
		Subject:  "ERROR COPYING Run Dir " + run.Name,
		Body:     b.String(),
		Priority: notifications.PriorityHigh,
	}
}

func copyCompleteMessage(run *Run, req transfer.Request, host string, result completion) notifications.Message {
	subject := "Finished copying run dir " + run.Name
	if result.hasProblems() {
		subject = "Problems found. " + subject
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Finished copying run %s\n\n", run.Name)
	if len(result.missing) > 0 {
		b.WriteString("*** RUN HAS MISSING FILES ***\n\n")
		for _, missing := range result.missing {
			fmt.Fprintf(&b, "\t%s\n", missing)
		}
		b.WriteString("\n")
	}
	if len(result.discrepancies) > 0 {
		fmt.Fprintf(&b, "%s: *** RUN HAS INCONSISTENCIES WITH LIMS\n\n", run.Name)
		b.WriteString("Check the problems below and correct any errors in the LIMS:\n\n")
		for _, problem := range result.discrepancies {
			b.WriteString(problem + "\n")
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Run:\t\t\t%s\n", run.Name)
	fmt.Fprintf(&b, "NEW LOCATION:\t\t%s:%s\n", req.DestHost, req.RemoteRunPath())
	fmt.Fprintf(&b, "Original Location:\t%s:%s\n", host, run.Path())
	b.WriteString("\n")
	fmt.Fprintf(&b, "Read count:\t\t%d\n", len(result.metadata.Reads))
	fmt.Fprintf(&b, "Cycles:\t\t\t%s\n", joinInts(result.metadata.CycleList()))
	b.WriteString("\n")
	fmt.Fprintf(&b, "Copy time:\t\t%s\n", run.stopped.Sub(run.started).Round(time.Second))
	fmt.Fprintf(&b, "Disk usage:\t\t%s\n", formatDiskUsage(result.diskUsage))
	return notifications.Message{Subject: subject, Body: b.String()}
}

func missingRunMessage(run *Run, host string) notifications.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "MISSING RUN:\t%s\n", run.Name)
	fmt.Fprintf(&b, "Location:\t%s:%s\n\n", host, run.Path())
	b.WriteString("Autocopy was tracking this run, but can no longer find it on disk.")
	return notifications.Message{Subject: "Missing Run Dir " + run.Name, Body: b.String()}
}

func lowFreeSpaceMessage(root string, free, minimum int64) notifications.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "The following run root directory:\n\n %s\n\n", root)
	fmt.Fprintf(&b, "has %s remaining.\n\n", preflight.FormatGB(free))
	fmt.Fprintf(&b, "A warning is sent when free space is less than %s", preflight.FormatGB(minimum))
	return notifications.Message{
		Subject:  "Insufficient free space in " + root,
		Body:     b.String(),
		Priority: notifications.PriorityHigh,
	}
}

func runNotFoundMessage(name string) notifications.Message {
	return notifications.Message{
		Subject: "Run not found in LIMS " + name,
		Body: fmt.Sprintf("Autocopy could not find run %s in the LIMS.\n", name) +
			"Autocopy will proceed with the copy anyway.",
	}
}

func copyRestartedMessage(name string, threshold time.Duration) notifications.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "The copy process for run %s was in progress for longer than %s hours.\n", name, strconv.FormatFloat(threshold.Hours(), 'f', -1, 64))
	b.WriteString("Just in case this was a stalled process, autocopy killed and restarted the rsync.\n")
	b.WriteString("The copy should resume where it left off.\n")
	b.WriteString("If you see this email again, you may need to troubleshoot.\n")
	return notifications.Message{
		Subject: "Stalled copy suspected. Restarted run " + name,
		Body:    b.String(),
	}
}

func formatDiskUsage(bytes int64) string {
	if bytes > int64(units.TiB) {
		return fmt.Sprintf("%.1f TB", float64(bytes)/float64(units.TiB))
	}
	return preflight.FormatGB(bytes)
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, " ")
}
