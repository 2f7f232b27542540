// Package metrics exposes task engine lifecycle metrics to Prometheus.
//
// Build a Collector against a registry and attach its Handler when
// constructing the Manager:
//
//	col := metrics.NewCollector(prometheus.DefaultRegisterer)
//	m := engine.NewManager(cfg, engine.WithEventHandler(col.Handler()))
package metrics
