package logging

import (
	"context"
	"log/slog"
)

// Shared attribute keys so log queries line up across components.
const (
	FieldJobID     = "job_id"
	FieldJobKind   = "job_kind"
	FieldStatus    = "status"
	FieldHost      = "host"
	FieldRunID     = "run_id"
	FieldRule      = "rule"
	FieldAnalysis  = "analysis"
	FieldStorage   = "storage"
	FieldPath      = "path"
	FieldComponent = "component"
)

// Error wraps an error as a slog attribute, tolerating nil.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "<nil>")
	}
	return slog.Any("error", err)
}

// NewNop returns a logger that discards everything. Handy in tests.
func NewNop() *slog.Logger {
	return slog.New(nopHandler{})
}

type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }
