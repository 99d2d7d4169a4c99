package nexus

import (
	"context"

	"github.com/go-lynx/nexus/faults"
	"github.com/go-lynx/nexus/log"
	"github.com/go-lynx/nexus/modules"
)

// discover registers the catalog's enabled modules that are not registered
// yet. Constructor failures are reported as diagnostics and never abort
// startup.
func (o *Orchestrator) discover(ctx context.Context) {
	if o.catalog == nil {
		return
	}
	candidates, err := o.catalog.Discover(o.cfg)
	if err != nil {
		o.recovery.HandleFault(ctx, &faults.Fault{
			Category: faults.CategoryDiagnostic,
			Severity: faults.SeverityLow,
			Message:  "module discovery skipped failing constructors",
			Err:      err,
		}, RecoveryContext{})
	}
	for _, c := range candidates {
		if _, exists := o.entries[c.Key]; exists {
			log.Debugf("discovered module %s already registered", c.Name)
			continue
		}
		if _, exists := o.byName[c.Name]; exists {
			log.Debugf("discovered module %s already registered", c.Name)
			continue
		}
		modules.EnsureName(c.Module, c.Name)
		modules.EnsurePriority(c.Module, c.Priority)
		if _, err := o.checkNew(c.Key, c.Module); err != nil {
			log.Warnw("msg", "discovered module rejected", "module", c.Name, "error", err)
			continue
		}
		o.add(c.Key, c.Module.Name(), c.Module)
		o.sorted = nil
	}
	log.Debugf("discovery registered %d candidates", len(candidates))
}
