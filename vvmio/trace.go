// Package vvmio has i/o helpers shared by the IMAP client and the provisioning
// HTTP client.
package vvmio

import (
	"io"

	"github.com/mjl-/vvm/mlog"
)

// TraceWriter logs everything written through it at a configurable trace
// level before passing it on.
type TraceWriter struct {
	log    *mlog.Log
	prefix string
	w      io.Writer
	level  mlog.Level
}

// NewTraceWriter wraps "w" into a writer that logs all writes to "log" with
// log level trace, prefixed with "prefix".
func NewTraceWriter(log *mlog.Log, prefix string, w io.Writer) *TraceWriter {
	return &TraceWriter{log, prefix, w, mlog.LevelTrace}
}

// Write logs a trace line for buf, then writes it.
func (w *TraceWriter) Write(buf []byte) (int, error) {
	w.log.Trace(w.level, w.prefix+string(buf))
	return w.w.Write(buf)
}

// SetTrace changes the level for the following writes, e.g. LevelTraceauth
// while credentials are written.
func (w *TraceWriter) SetTrace(level mlog.Level) {
	w.level = level
}

// TraceReader logs data read through it.
type TraceReader struct {
	log    *mlog.Log
	prefix string
	r      io.Reader
	level  mlog.Level
}

// NewTraceReader wraps reader "r" into a reader that logs all reads to "log"
// with log level trace, prefixed with "prefix".
func NewTraceReader(log *mlog.Log, prefix string, r io.Reader) *TraceReader {
	return &TraceReader{log, prefix, r, mlog.LevelTrace}
}

// Read does a single Read on its underlying reader, logs data of successful
// reads, and returns the data read.
func (r *TraceReader) Read(buf []byte) (int, error) {
	n, err := r.r.Read(buf)
	if n > 0 {
		r.log.Trace(r.level, r.prefix+string(buf[:n]))
	}
	return n, err
}

func (r *TraceReader) SetTrace(level mlog.Level) {
	r.level = level
}

// SetReader replaces the underlying reader, e.g. after a TLS upgrade.
func (r *TraceReader) SetReader(nr io.Reader) {
	r.r = nr
}
