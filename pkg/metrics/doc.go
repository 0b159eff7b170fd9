/*
Package metrics exposes flowbench's Prometheus instrumentation:
package-level collectors registered in init(), in the same style as
the teacher's own pkg/metrics, scraped from a /metrics HTTP endpoint
via Handler().

Unlike pkg/monitor's Record-based sinks, these gauges and histograms
update on the default Prometheus registry and are meant for a
long-running coordinator or node process to expose continuously,
independent of whether a monitor sink is also wired for the run.

# Usage

	metrics.ReadOpsTotal.Add(float64(delta))
	timer := metrics.NewTimer()
	// ... round trip ...
	timer.ObserveDurationVec(metrics.ProtocolRoundTrip, "heartbeat")

	http.Handle("/metrics", metrics.Handler())
*/
package metrics
