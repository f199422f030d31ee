// Package metrics provides observability hooks for satellited.
//
// Components receive a Recorder through dependency injection and default to
// NoopRecorder, so no call site needs a nil check:
//
//	engine := timers.NewEngine(store, sched, timers.WithRecorder(recorder))
//
// When metrics are enabled the daemon builds a PrometheusRecorder on its own
// registry and mounts HTTPHandler on the admin server.
package metrics
