package segment

// MetricData is the in-process shape of a peer's reported rate metrics for
// one segment. A gRPC sidecar built on this module would decode these off
// the wire and hand them to Registry.ApplyPeerMetrics, and encode
// Registry.Snapshot's result back onto the wire; this package stops at
// that data boundary.
type MetricData struct {
	RequestRate         float64
	AcceptedRequestRate float64
}
