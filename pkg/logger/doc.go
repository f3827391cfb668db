// Package logger provides structured logging for the Klarna parser.
//
// It wraps zerolog behind a small Logger interface. Console output goes to
// stderr, coloured on a terminal; when a log file is configured every event
// is also appended to it as a JSON line.
//
//	err := logger.Initialize(&cfg.Logging)
//	log := logger.GetLogger().WithField("run_id", runID)
//	log.InfoWithFields("Report downloaded", map[string]interface{}{
//	    "file": path,
//	})
//
// Components receive a Logger through their constructors. Tests use
// NewTestLogger to capture and assert on emitted messages.
package logger
