package condition

// Context resolves root variable names for evaluation. A missing name
// evaluates to nil (undefined), never an error.
type Context interface {
	Lookup(name string) (any, bool)
}

// MapContext is a Context backed by a map.
type MapContext map[string]any

// Lookup implements Context.
func (m MapContext) Lookup(name string) (any, bool) {
	v, ok := m[name]
	return v, ok
}

// Chain layers contexts; the first one that knows a name wins.
type Chain []Context

// Lookup implements Context.
func (c Chain) Lookup(name string) (any, bool) {
	for _, ctx := range c {
		if ctx == nil {
			continue
		}
		if v, ok := ctx.Lookup(name); ok {
			return v, true
		}
	}
	return nil, false
}

// ContextFunc adapts a function to Context.
type ContextFunc func(name string) (any, bool)

// Lookup implements Context.
func (f ContextFunc) Lookup(name string) (any, bool) { return f(name) }
