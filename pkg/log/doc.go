// Package log provides kvdb's structured logging facade.
//
// A small Logger interface with leveled methods and a Field type for
// structured context sits on top of log/slog through a bridge handler that
// feeds our own formatters and outputs.
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormatter(&log.TextFormatter{}),
//	    log.WithOutput(log.NewConsoleOutput()),
//	)
//	l = l.With(log.Component("datastore"))
//	l.Info("index populated", log.Int("keys", 42))
//
// ApplyConfig builds a logger from a declarative Config (text or json,
// console/file/null outputs, key redaction, sampling). RedirectStdLog sends
// the standard library logger, which Pebble writes to, into the same stream.
package log
