// Package scanning runs audit scan jobs.
//
// A job is driven through an ordered list of phases by one background
// goroutine. Every phase advance and terminal transition goes through Job,
// which persists a snapshot to the store and then notifies the sink while
// holding the job's lock, so observers see one job's events in order.
//
// Two drivers exist. The simulated driver completes one phase per tick and
// never probes anything. The real driver checks liveness, runs the audit
// probe, parses its report, applies the port heuristics and records every
// finding against the device before completing.
//
// Engine is the entry point. It validates the request, creates and
// registers the job, and starts the driver:
//
//	engine := scanning.NewEngine(scanning.Options{
//		Store:  st,
//		Sink:   hub,
//		Runner: probe.NewExecRunner(cfg.Engine.NmapPath),
//		Config: &cfg.Engine,
//	})
//	job, err := engine.Start(ctx, deviceID, store.ModeReal)
//
// Registry tracks live jobs, rejects a second running job for a device
// and stops everything on Shutdown.
package scanning
