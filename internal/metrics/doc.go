// Package metrics exports pulse's Prometheus collectors. Components take a
// *Metrics and may be given nil, in which case nothing is recorded.
package metrics
