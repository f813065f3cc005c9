// Package logging provides structured logging for relay sessions.
//
// Logs are JSON lines produced by log/slog. Child loggers carry persistent
// attributes so that a single debug.log shared by many concurrent sessions
// can later be filtered back into per-session timelines:
//
//	logger, err := logging.NewLoggerWithRotation(dir, "INFO", logging.DefaultRotationConfig())
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	sessionLogger := logger.WithSession(id).WithPhase("selecting")
//	sessionLogger.Info("worker selected", "worker", "coder")
//
// Output:
//
//	{"time":"...","level":"INFO","msg":"worker selected","session_id":"...","phase":"selecting","worker":"coder"}
//
// [ReadLogFile] and [FilterLogs] parse those lines back for the
// `relay logs` command. [RotatingWriter] caps the file size and keeps a
// configurable number of numbered backups.
//
// All types in this package are safe for concurrent use.
package logging
