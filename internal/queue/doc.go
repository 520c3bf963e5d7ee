// Package queue persists upload jobs and compute tasks in SQLite and owns
// their claim/complete lifecycle.
//
// The Store manages the database connection, schema initialization, job
// creation, the atomic claim handoff, status transitions, the assigned/
// processed file ledger rows, parameter-set deduplication, and the final File
// records committed when an upload job finishes. All cross-worker coordination
// goes through these tables; workers share no other mutable state.
//
// Job identifiers are assigned max(existing)+1 inside the creating
// transaction. The claim is a conditional UPDATE on the waiting flag, so at
// most one worker ever observes the waiting-to-claimed edge for a given job.
//
// Treat this package as the single source of truth for queue semantics; when
// you add statuses or columns, update schema.sql and bump schemaVersion.
package queue
