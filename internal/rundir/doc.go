// Package rundir reads local evidence from an Illumina run directory.
//
// Key types:
//   - Reader: the evidence source consumed by the workflow manager
//   - Metadata: parsed RunInfo.xml and run parameters
//   - Read: a single read segment with its cycle count
//
// Evidence is read fresh from disk on every call; nothing is cached.
// Helper methods on Metadata expose the attributes the oracle
// cross-check compares (paired-end flag, per-read cycles, index read).
package rundir
