// Package nexus orchestrates the lifecycle of in-process modules.
//
// An Orchestrator owns three collaborators: a module registry, an event bus
// (package events) through which modules talk to each other, and an
// ErrorRecoveryManager that every lifecycle call is routed through when it
// fails.
//
// Startup resolves the dependency graph declared by the modules, then calls
// Init on every module and Start on every module in that order. Shutdown
// runs in the reverse of the order in which modules started, persists the
// configuration and clears the bus.
//
// The orchestrator, the bus and the modules are driven from a single
// goroutine. Async bus subscribers do not run concurrently: their
// deliveries are queued and drained by ProcessPending, which the host loop
// calls once per tick.
//
//	o := nexus.New(nexus.WithConfig(store), nexus.WithCatalog(catalog))
//	if err := o.Initialize(ctx); err != nil {
//		return err
//	}
//	defer o.Shutdown(context.Background())
//	for range ticker.C {
//		o.ProcessPending()
//	}
package nexus
