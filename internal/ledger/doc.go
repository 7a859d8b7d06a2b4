// Package ledger records transfer history in SQLite.
//
// Every transfer launch becomes an attempt row carrying the child pid and
// its source and destination; exits, stall restarts and the final terminal
// move of a run are recorded as they happen. The ledger is history, not
// supervision state: the daemon never reattaches to a pid found here. On
// startup, attempts a previous daemon left running are marked orphaned and
// the run is redispatched by normal classification.
//
// The schema version lives in the SQLite user_version header. A ledger from
// another version is refused rather than migrated; operators move it aside.
package ledger
