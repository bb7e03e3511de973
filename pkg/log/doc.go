// Package log provides pulse's structured logging facade and utilities.
//
// # Overview
//
// The package exposes a small Logger interface with leveled methods and a
// simple Field type for structured context. It is backed by zerolog and
// writes either JSON lines or console text.
//
// Quick start
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormat(log.FormatText),
//	)
//	l = l.With(log.Component("dispatcher"), log.Str("queue", "check"))
//	l.Info("published", log.Int("appended", 10))
//
// # Configuration
//
// Use ApplyConfig to build a logger from a declarative Config.
//
// # Interop
//
// The printf-style methods satisfy pebble.Logger. RedirectStdLog routes
// the standard library logger through a Logger.
package log
