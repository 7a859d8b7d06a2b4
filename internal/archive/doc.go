// Package archive builds gzip-compressed tarballs of run directories for
// long-term storage.
//
// Each tarball holds the run directory under its own name, is written to a
// temporary path and renamed into place once complete, and can be verified
// against the source tree before the source is optionally removed. Intensity
// (.cif) files are left out unless requested.
package archive
