// Package logging builds the slog loggers used across axond.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// levels maps config names to slog levels. Unknown names fall back to
// info rather than failing startup.
var levels = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// NewLogger builds a logger writing to stderr. Level is one of debug,
// info, warn or error; format is text or json.
func NewLogger(level, format string) *slog.Logger {
	return NewLoggerWithWriter(level, format, os.Stderr)
}

// NewLoggerWithWriter builds a logger writing to w. Debug level also
// annotates records with their source location.
func NewLoggerWithWriter(level, format string, w io.Writer) *slog.Logger {
	lvl, ok := levels[strings.ToLower(level)]
	if !ok {
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	}
	if strings.ToLower(format) == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// NopLogger returns a logger that discards everything.
func NopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Common attribute keys for consistent logging.
const (
	KeyNetworkID  = "network_id"
	KeyPeer       = "peer"
	KeyPeerName   = "peer_name"
	KeyMsgType    = "msg_type"
	KeySequence   = "sequence"
	KeyLayer      = "layer"
	KeyAddress    = "address"
	KeyTransport  = "transport"
	KeyError      = "error"
	KeyComponent  = "component"
	KeyState      = "state"
	KeyRemoteAddr = "remote_addr"
	KeyLocalAddr  = "local_addr"
	KeyDuration   = "duration"
	KeyCount      = "count"
	KeyReason     = "reason"
)
