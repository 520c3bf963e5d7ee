// Package logging constructs the slog loggers used across labsync.
//
// Loggers are built once from configuration and handed to component
// constructors; packages never create their own ambient loggers. The console
// format targets interactive use on acquisition machines, the json format is
// for worker hosts whose logs are shipped elsewhere.
package logging
