// Package discovery provides the catalog of module constructors the
// orchestrator instantiates at startup.
package discovery

import (
	"fmt"
	"sort"

	"go.uber.org/multierr"

	"github.com/go-lynx/nexus/config"
	"github.com/go-lynx/nexus/faults"
	"github.com/go-lynx/nexus/modules"
)

// Constructor builds a fresh module instance.
type Constructor func() (modules.Module, error)

// Candidate is a constructed module ready for registration.
type Candidate struct {
	Name     string
	Priority int
	// Key is the identity the module is registered under.
	Key    modules.Key
	Module modules.Module
}

type registration struct {
	name       string
	priority   int
	key        modules.Key
	confPrefix string
	ctor       Constructor
}

// Catalog maps module names to constructors.
type Catalog struct {
	// creators stores one registration per module name.
	creators map[string]registration
	// confToModules maps configuration prefixes to the module names gated by them.
	// Example: "cache" -> ["cache.memory", "cache.redis"]
	confToModules map[string][]string
}

// Option customizes a catalog registration.
type Option func(*registration)

// WithConfPrefix gates the module on configuration: Discover skips it when
// "<prefix>.enabled" is false.
func WithConfPrefix(prefix string) Option {
	return func(r *registration) { r.confPrefix = prefix }
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		creators:      make(map[string]registration),
		confToModules: make(map[string][]string),
	}
}

// Register adds a constructor. A zero key registers the module under its
// dynamic type. Registering a name twice fails with faults.ErrDuplicateModule.
func (c *Catalog) Register(name string, priority int, key modules.Key, ctor Constructor, opts ...Option) error {
	if name == "" || ctor == nil {
		return fmt.Errorf("%w: catalog entry needs a name and a constructor", faults.ErrInvalidArgument)
	}
	if _, exists := c.creators[name]; exists {
		return fmt.Errorf("%w: catalog entry %s", faults.ErrDuplicateModule, name)
	}
	r := registration{name: name, priority: priority, key: key, ctor: ctor}
	for _, o := range opts {
		o(&r)
	}
	c.creators[name] = r
	if r.confPrefix != "" {
		c.confToModules[r.confPrefix] = append(c.confToModules[r.confPrefix], name)
	}
	return nil
}

// RegisterType registers ctor under the key of T.
func RegisterType[T any](c *Catalog, name string, priority int, ctor func() T, opts ...Option) error {
	if ctor == nil {
		return fmt.Errorf("%w: nil constructor for %s", faults.ErrInvalidArgument, name)
	}
	return c.Register(name, priority, modules.KeyOf[T](), func() (modules.Module, error) {
		v := ctor()
		m, ok := any(v).(modules.Module)
		if !ok {
			return nil, fmt.Errorf("%w: %T is not a module", faults.ErrInvalidArgument, v)
		}
		return m, nil
	}, opts...)
}

// Unregister removes a constructor and its configuration mapping.
func (c *Catalog) Unregister(name string) {
	r, ok := c.creators[name]
	if !ok {
		return
	}
	delete(c.creators, name)
	if r.confPrefix == "" {
		return
	}
	list := c.confToModules[r.confPrefix]
	for i, n := range list {
		if n == name {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(c.confToModules, r.confPrefix)
	} else {
		c.confToModules[r.confPrefix] = list
	}
}

// Has reports whether name is registered.
func (c *Catalog) Has(name string) bool {
	_, ok := c.creators[name]
	return ok
}

// Len returns the number of registered constructors.
func (c *Catalog) Len() int { return len(c.creators) }

// Prefixes returns a copy of the configuration prefix mapping.
func (c *Catalog) Prefixes() map[string][]string {
	out := make(map[string][]string, len(c.confToModules))
	for k, v := range c.confToModules {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Discover constructs every enabled module, ordered by priority then name.
// A constructor that fails or panics is skipped and its error joined into
// the returned error; the other candidates are still returned.
func (c *Catalog) Discover(store config.Store) ([]Candidate, error) {
	regs := make([]registration, 0, len(c.creators))
	for _, r := range c.creators {
		if r.confPrefix != "" && store != nil && !config.Get(store, r.confPrefix+".enabled", true) {
			continue
		}
		regs = append(regs, r)
	}
	sort.Slice(regs, func(i, j int) bool {
		if regs[i].priority != regs[j].priority {
			return regs[i].priority < regs[j].priority
		}
		return regs[i].name < regs[j].name
	})

	var (
		out  = make([]Candidate, 0, len(regs))
		errs error
	)
	for _, r := range regs {
		m, err := construct(r)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("construct %s: %w", r.name, err))
			continue
		}
		key := r.key
		if key.IsZero() {
			key = modules.KeyFor(m)
		}
		out = append(out, Candidate{Name: r.name, Priority: r.priority, Key: key, Module: m})
	}
	return out, errs
}

func construct(r registration) (m modules.Module, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			m, err = nil, faults.Recovered(rec)
		}
	}()
	m, err = r.ctor()
	if err == nil {
		err = modules.Validate(m)
	}
	return m, err
}
