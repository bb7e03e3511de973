// Package grpcserver serves the standard grpc.health.v1 service for a pulse
// process. The reported status follows periodic store pings, so orchestrators
// can probe dispatcher and worker processes without HTTP.
//
// Example:
//
//	s := grpcserver.New(rt, 5*time.Second, logger)
//	_ = s.ListenAndServe(ctx, ":9091")
package grpcserver
