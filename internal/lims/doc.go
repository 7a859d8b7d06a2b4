// Package lims is the HTTP client for the laboratory information system that
// records run metadata and sequencing status.
//
// RunInfo distinguishes an authoritative missing record (ErrNotFound) from a
// transient failure (ErrUnavailable). Transient failures are retried briefly
// with exponential backoff before being reported.
package lims
