// Package client contains the Cobra commands that inspect and drive pulse
// state directly through the shared store: registry maintenance, queue
// publish/dequeue/stats and the gRPC health probe.
package client
