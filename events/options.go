package events

import "github.com/go-lynx/nexus/config"

// Configuration keys read by OptionsFromConfig.
const (
	KeyMaxCachedEvents     = "nexus.bus.max_cached_events"
	KeyMaxAsyncPerDrain    = "nexus.bus.max_async_per_drain"
	KeyInheritanceDispatch = "nexus.bus.inheritance_dispatch"
)

// Options tunes a Bus.
type Options struct {
	// MaxCachedEvents bounds the published-event history. Zero or less disables it.
	MaxCachedEvents int
	// MaxAsyncPerDrain caps handler invocations per ProcessPending call.
	MaxAsyncPerDrain int
	// InheritanceDispatch delivers events to subscribers of interfaces the
	// event implements and of structs it embeds.
	InheritanceDispatch bool
}

// DefaultOptions returns the defaults used when no configuration is present.
func DefaultOptions() Options {
	return Options{
		MaxCachedEvents:     100,
		MaxAsyncPerDrain:    64,
		InheritanceDispatch: true,
	}
}

// OptionsFromConfig reads bus options from store, falling back to defaults
// for absent or malformed keys.
func OptionsFromConfig(store config.Store) Options {
	opts := DefaultOptions()
	if store == nil {
		return opts
	}
	opts.MaxCachedEvents = config.Get(store, KeyMaxCachedEvents, opts.MaxCachedEvents)
	opts.MaxAsyncPerDrain = config.Get(store, KeyMaxAsyncPerDrain, opts.MaxAsyncPerDrain)
	opts.InheritanceDispatch = config.Get(store, KeyInheritanceDispatch, opts.InheritanceDispatch)
	return opts
}

func (o Options) normalize() Options {
	if o.MaxAsyncPerDrain <= 0 {
		o.MaxAsyncPerDrain = DefaultOptions().MaxAsyncPerDrain
	}
	return o
}
