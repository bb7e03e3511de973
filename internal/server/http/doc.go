// Package httpserver serves the operational HTTP surface of a pulse process:
// /healthz, Prometheus /metrics and read-only registry and queue stats.
//
// Example:
//
//	s := httpserver.New(rt, logger)
//	_ = s.ListenAndServe(ctx, ":9090")
package httpserver
