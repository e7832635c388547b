// Package logging provides structured JSON logging for the pairpad engine.
//
// It wraps log/slog and lets callers derive child loggers that carry the
// session, participant, or file they concern:
//
//	logger, err := logging.NewLogger("/var/log/pairpad", "INFO")
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	logger.WithSession(id).WithParticipant(pid).Info("change applied", "version", 7)
//
// Output:
//
//	{"time":"...","level":"INFO","msg":"change applied","session_id":"...","participant_id":"...","version":7}
//
// With an empty directory the logger writes to stderr. File loggers go
// through a [RotatingWriter]; rotated files are named pairpad.log.1 (newest)
// through pairpad.log.N and become .gz files when compression is on.
//
// Tests use [NopLogger], or [NewLoggerTo] with a bytes.Buffer to assert on
// output.
//
// The CLI reads these settings from the logging section of the config file:
//
//	logging:
//	  enabled: true
//	  level: info
//	  dir: ""
//	  max_size_mb: 10
//	  max_backups: 3
//	  compress: false
package logging
