// Package notifications delivers operator messages from the copy daemon.
//
// Mail is sent over SMTP when smtp_server is configured and pushed to ntfy
// when ntfy_topic is configured; with both set every message goes to both.
// NewService wraps the transports so every message carries the host subject
// prefix and a sent-at footer, is written to the log, and is retried once
// before the failure is reported. When notifications are disabled a no-op
// implementation is returned.
//
// Workflow code depends only on the Service interface.
package notifications
