// Package services defines the shared failure taxonomy for job execution.
//
// Every component that can fail a job wraps its errors with one of the
// exported sentinel markers so the worker can map failures to job status and
// operators can grep logs by class. Recoverable race outcomes (a job already
// claimed elsewhere) are deliberately not part of this taxonomy; they are
// signalled through claim results, not errors.
package services
