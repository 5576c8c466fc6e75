package taskloop

// ContextVar is a named value inherited along the task tree. A read walks
// from the task to the root and returns the nearest value set; changes on an
// ancestor are visible to descendants that did not override the variable.
// All accessors must run while holding the turn.
type ContextVar[T any] struct {
	name    string
	def     T
	defFn   func() T
	hasDef  bool
	hasDefF bool
}

// VarOption configures a ContextVar.
type VarOption[T any] func(*ContextVar[T])

// WithDefault sets the value returned when no task on the chain holds one.
func WithDefault[T any](v T) VarOption[T] {
	return func(c *ContextVar[T]) {
		c.def = v
		c.hasDef = true
	}
}

// WithDefaultFunc computes the default lazily on each miss.
func WithDefaultFunc[T any](fn func() T) VarOption[T] {
	return func(c *ContextVar[T]) {
		c.defFn = fn
		c.hasDefF = true
	}
}

// NewContextVar declares a context variable. The name only appears in
// diagnostics.
func NewContextVar[T any](name string, opts ...VarOption[T]) *ContextVar[T] {
	v := &ContextVar[T]{name: name}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Name returns the diagnostic name.
func (v *ContextVar[T]) Name() string { return v.name }

// Get returns the nearest value on the ancestor chain of t, the default when
// none is set, or a MissingContextError.
func (v *ContextVar[T]) Get(t *Task) (T, error) {
	for cur := t; cur != nil; cur = cur.parent {
		if cur.ctxValues != nil {
			if val, ok := cur.ctxValues[v]; ok {
				return val.(T), nil
			}
		}
	}
	if v.hasDef {
		return v.def, nil
	}
	if v.hasDefF {
		return v.defFn(), nil
	}
	var zero T
	return zero, &MissingContextError{Name: v.name}
}

// Set stores val on t, overriding inherited values for t and its subtree.
func (v *ContextVar[T]) Set(t *Task, val T) {
	if t.ctxValues == nil {
		t.ctxValues = map[any]any{}
	}
	t.ctxValues[v] = val
}

// Unset removes t's own override, re-exposing any ancestor value.
func (v *ContextVar[T]) Unset(t *Task) {
	delete(t.ctxValues, v)
}

// SetDefault changes the process-wide default.
func (v *ContextVar[T]) SetDefault(val T) {
	v.def = val
	v.hasDef = true
}

type mapCell[V any] struct {
	val     V
	deleted bool
}

// ContextMap is a keyed context variable: each key inherits independently
// along the task tree and may be deleted for a subtree without touching
// sibling keys. Used for subprocess environments.
type ContextMap[K comparable, V any] struct {
	name  string
	defFn func() map[K]V
}

// MapOption configures a ContextMap.
type MapOption[K comparable, V any] func(*ContextMap[K, V])

// WithMapDefault supplies the base mapping merged under all task-level
// entries, computed lazily.
func WithMapDefault[K comparable, V any](fn func() map[K]V) MapOption[K, V] {
	return func(m *ContextMap[K, V]) { m.defFn = fn }
}

// NewContextMap declares a keyed context variable.
func NewContextMap[K comparable, V any](name string, opts ...MapOption[K, V]) *ContextMap[K, V] {
	m := &ContextMap[K, V]{name: name}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Name returns the diagnostic name.
func (m *ContextMap[K, V]) Name() string { return m.name }

func (m *ContextMap[K, V]) cells(t *Task, create bool) map[K]mapCell[V] {
	if t.ctxValues == nil {
		if !create {
			return nil
		}
		t.ctxValues = map[any]any{}
	}
	if stored, ok := t.ctxValues[m]; ok {
		return stored.(map[K]mapCell[V])
	}
	if !create {
		return nil
	}
	cells := map[K]mapCell[V]{}
	t.ctxValues[m] = cells
	return cells
}

// Get returns the nearest value for key k on the ancestor chain of t. A
// deletion on the chain shadows values further up.
func (m *ContextMap[K, V]) Get(t *Task, k K) (V, error) {
	var zero V
	for cur := t; cur != nil; cur = cur.parent {
		if cells := m.cells(cur, false); cells != nil {
			if cell, ok := cells[k]; ok {
				if cell.deleted {
					return zero, &MissingContextError{Name: m.name}
				}
				return cell.val, nil
			}
		}
	}
	if m.defFn != nil {
		if v, ok := m.defFn()[k]; ok {
			return v, nil
		}
	}
	return zero, &MissingContextError{Name: m.name}
}

// Set stores k=v on t.
func (m *ContextMap[K, V]) Set(t *Task, k K, v V) {
	m.cells(t, true)[k] = mapCell[V]{val: v}
}

// Delete hides key k for t and its subtree.
func (m *ContextMap[K, V]) Delete(t *Task, k K) {
	m.cells(t, true)[k] = mapCell[V]{deleted: true}
}

// Snapshot merges the default mapping with every entry on the chain from the
// root down to t, later tasks overriding earlier ones.
func (m *ContextMap[K, V]) Snapshot(t *Task) map[K]V {
	out := map[K]V{}
	if m.defFn != nil {
		for k, v := range m.defFn() {
			out[k] = v
		}
	}
	var chain []*Task
	for cur := t; cur != nil; cur = cur.parent {
		chain = append(chain, cur)
	}
	for i := len(chain) - 1; i >= 0; i-- {
		cells := m.cells(chain[i], false)
		for k, cell := range cells {
			if cell.deleted {
				delete(out, k)
			} else {
				out[k] = cell.val
			}
		}
	}
	return out
}
