package registry

// Callable is the signature of local functions the remote application may call.
type Callable func(args ...any) (any, error)

// Func gives a Callable an identity. Go function values are not comparable,
// so a function only has a handle through the *Func wrapping it.
type Func struct {
	fn Callable
}

// NewFunc wraps fn.
func NewFunc(fn Callable) *Func {
	return &Func{fn: fn}
}

// Invoke calls the wrapped function.
func (f *Func) Invoke(args ...any) (any, error) {
	return f.fn(args...)
}

// AsReference converts v into something the registry can track. Plain
// functions get a fresh *Func, so the same function passed twice yields two
// distinct references. The second result is false for values that are not
// references.
func AsReference(v any) (any, bool) {
	switch fn := v.(type) {
	case Callable:
		if fn == nil {
			return nil, false
		}
		return NewFunc(fn), true
	case func(args ...any) (any, error):
		if fn == nil {
			return nil, false
		}
		return NewFunc(fn), true
	}
	return v, IsReference(v)
}
