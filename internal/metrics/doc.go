// Package metrics provides run and entry metrics for imagebuilder.
//
// Components receive a Recorder and default to NoopRecorder, so no call site needs a
// nil check:
//
//	runner := pipeline.NewRunner(cfg) // records nothing
//	runner.WithRecorder(metrics.NewPrometheusRecorder(reg))
//
// The Prometheus registry is exported either over HTTP by the daemon (HTTPHandler)
// or, for cron driven one-shot builds, as a node_exporter textfile (WriteTextfile).
package metrics
