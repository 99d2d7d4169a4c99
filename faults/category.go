package faults

// Category classifies a fault. Categories form a tree rooted at CategoryAny;
// recovery strategy lookup walks from a category towards the root.
type Category struct {
	name   string
	parent *Category
	// severity is used when a fault of this category does not carry one.
	severity Severity
}

// NewCategory declares a category below parent. A nil parent attaches it to CategoryAny.
func NewCategory(name string, parent *Category, defaultSeverity Severity) *Category {
	if parent == nil {
		parent = CategoryAny
	}
	if defaultSeverity == SeverityUnspecified {
		defaultSeverity = parent.severity
	}
	return &Category{name: name, parent: parent, severity: defaultSeverity}
}

// Built-in categories.
var (
	CategoryAny = &Category{name: "any", severity: SeverityMedium}

	CategoryModule         = NewCategory("module", CategoryAny, SeverityHigh)
	CategoryModuleInit     = NewCategory("module.init", CategoryModule, SeverityHigh)
	CategoryModuleStart    = NewCategory("module.start", CategoryModule, SeverityHigh)
	CategoryModuleShutdown = NewCategory("module.shutdown", CategoryModule, SeverityMedium)

	CategoryBus          = NewCategory("bus", CategoryAny, SeverityMedium)
	CategoryBusNoHandler = NewCategory("bus.no_handler", CategoryBus, SeverityHigh)
	CategoryBusDispatch  = NewCategory("bus.dispatch", CategoryBus, SeverityMedium)

	CategoryDependency        = NewCategory("dependency", CategoryAny, SeverityHigh)
	CategoryDependencyCycle   = NewCategory("dependency.cycle", CategoryDependency, SeverityHigh)
	CategoryDependencyMissing = NewCategory("dependency.missing", CategoryDependency, SeverityLow)

	CategoryResource          = NewCategory("resource", CategoryAny, SeverityHigh)
	CategoryResourceExhausted = NewCategory("resource.exhausted", CategoryResource, SeverityCritical)

	// CategoryRuntime covers recovered panics.
	CategoryRuntime = NewCategory("runtime", CategoryAny, SeverityHigh)
	// CategoryInvalid covers argument and state invariant violations.
	CategoryInvalid = NewCategory("invalid", CategoryAny, SeverityHigh)
	CategoryGeneric = NewCategory("generic", CategoryAny, SeverityMedium)
	// CategoryDiagnostic marks explicitly non-fatal reports.
	CategoryDiagnostic = NewCategory("generic.diagnostic", CategoryGeneric, SeverityLow)
)

// Name returns the dotted category name.
func (c *Category) Name() string {
	if c == nil {
		return "<nil>"
	}
	return c.name
}

func (c *Category) String() string { return c.Name() }

// Parent returns the enclosing category, nil for CategoryAny.
func (c *Category) Parent() *Category {
	if c == nil {
		return nil
	}
	return c.parent
}

// DefaultSeverity is the severity assigned to faults that do not set one.
func (c *Category) DefaultSeverity() Severity {
	if c == nil {
		return SeverityMedium
	}
	return c.severity
}

// Chain returns c followed by its ancestors up to and including CategoryAny.
func (c *Category) Chain() []*Category {
	var chain []*Category
	for cur := c; cur != nil; cur = cur.parent {
		chain = append(chain, cur)
	}
	return chain
}

// IsA reports whether c equals other or descends from it.
func (c *Category) IsA(other *Category) bool {
	for cur := c; cur != nil; cur = cur.parent {
		if cur == other {
			return true
		}
	}
	return false
}
