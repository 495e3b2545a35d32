package server

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"

	"zoiper-rpc/registry"
)

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// funcType records the shape of a typed Go function exposed as a callback.
type funcType struct {
	fn       reflect.Value
	argTypes []reflect.Type
	variadic bool
	hasValue bool // first result is a value
	hasError bool // last result is an error
}

// Adapt turns a typed Go function into a Callable, so callbacks can be
// written as func(name string, id int) error rather than func(...any).
//
// Accepted signatures take any number of arguments and return nothing, a
// value, an error, or a value and an error. Decoded arguments are converted
// to the declared parameter types: JSON numbers arrive as float64, or as
// json.Number beyond 2^53, and convert to any numeric parameter type that
// holds them exactly. A fraction passed for an integer parameter, or a value
// out of the parameter's range, is an error. Missing trailing arguments get
// their zero value.
func Adapt(fn any) (registry.Callable, error) {
	if c, ok := fn.(registry.Callable); ok && c != nil {
		return c, nil
	}
	if c, ok := fn.(func(args ...any) (any, error)); ok && c != nil {
		return c, nil
	}
	ft, err := newFuncType(fn)
	if err != nil {
		return nil, err
	}
	return ft.call, nil
}

// MustAdapt is like Adapt but panics on an unsupported signature.
func MustAdapt(fn any) registry.Callable {
	c, err := Adapt(fn)
	if err != nil {
		panic(err)
	}
	return c
}

func newFuncType(fn any) (*funcType, error) {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return nil, fmt.Errorf("callback must be a non-nil function, got %T", fn)
	}
	typ := v.Type()
	ft := &funcType{fn: v, variadic: typ.IsVariadic()}
	for i := 0; i < typ.NumIn(); i++ {
		ft.argTypes = append(ft.argTypes, typ.In(i))
	}
	switch typ.NumOut() {
	case 0:
	case 1:
		if typ.Out(0) == errorType {
			ft.hasError = true
		} else {
			ft.hasValue = true
		}
	case 2:
		if typ.Out(1) != errorType {
			return nil, fmt.Errorf("callback %s: second result must be an error", typ)
		}
		ft.hasValue, ft.hasError = true, true
	default:
		return nil, fmt.Errorf("callback %s: too many results", typ)
	}
	return ft, nil
}

func (ft *funcType) call(args ...any) (any, error) {
	in, err := ft.convertArgs(args)
	if err != nil {
		return nil, err
	}
	out := ft.fn.Call(in)
	var result any
	if ft.hasValue {
		result = out[0].Interface()
	}
	if ft.hasError {
		if errv := out[len(out)-1]; !errv.IsNil() {
			return nil, errv.Interface().(error)
		}
	}
	return result, nil
}

func (ft *funcType) convertArgs(args []any) ([]reflect.Value, error) {
	fixed := len(ft.argTypes)
	if ft.variadic {
		fixed--
	}
	if !ft.variadic && len(args) > fixed {
		return nil, fmt.Errorf("callback takes %d arguments, got %d", fixed, len(args))
	}
	in := make([]reflect.Value, 0, len(args))
	for i := 0; i < fixed; i++ {
		var arg any
		if i < len(args) {
			arg = args[i]
		}
		v, err := convert(arg, ft.argTypes[i])
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		in = append(in, v)
	}
	if ft.variadic {
		elem := ft.argTypes[fixed].Elem()
		for i := fixed; i < len(args); i++ {
			v, err := convert(args[i], elem)
			if err != nil {
				return nil, fmt.Errorf("argument %d: %w", i, err)
			}
			in = append(in, v)
		}
	}
	return in, nil
}

func convert(arg any, typ reflect.Type) (reflect.Value, error) {
	if arg == nil {
		return reflect.Zero(typ), nil
	}
	if n, ok := arg.(json.Number); ok && isNumeric(typ.Kind()) {
		return fromNumber(n, typ)
	}
	v := reflect.ValueOf(arg)
	if v.Type().AssignableTo(typ) {
		return v, nil
	}
	if isNumeric(v.Kind()) && isNumeric(typ.Kind()) {
		switch {
		case isInt(v.Kind()):
			return fromInt(v.Int(), typ)
		case isUint(v.Kind()):
			return fromUint(v.Uint(), typ)
		default:
			return fromFloat(v.Float(), typ)
		}
	}
	return reflect.Value{}, fmt.Errorf("cannot use %T as %s", arg, typ)
}

func fromNumber(n json.Number, typ reflect.Type) (reflect.Value, error) {
	if i, err := n.Int64(); err == nil {
		return fromInt(i, typ)
	}
	if u, err := strconv.ParseUint(string(n), 10, 64); err == nil {
		return fromUint(u, typ)
	}
	f, err := n.Float64()
	if err != nil {
		return reflect.Value{}, fmt.Errorf("cannot use %s as %s", n, typ)
	}
	return fromFloat(f, typ)
}

func fromInt(i int64, typ reflect.Type) (reflect.Value, error) {
	out := reflect.New(typ).Elem()
	switch {
	case isInt(typ.Kind()):
		if out.OverflowInt(i) {
			return reflect.Value{}, fmt.Errorf("%d overflows %s", i, typ)
		}
		out.SetInt(i)
	case isUint(typ.Kind()):
		if i < 0 || out.OverflowUint(uint64(i)) {
			return reflect.Value{}, fmt.Errorf("%d overflows %s", i, typ)
		}
		out.SetUint(uint64(i))
	default:
		out.SetFloat(float64(i))
	}
	return out, nil
}

func fromUint(u uint64, typ reflect.Type) (reflect.Value, error) {
	out := reflect.New(typ).Elem()
	switch {
	case isInt(typ.Kind()):
		if u > math.MaxInt64 || out.OverflowInt(int64(u)) {
			return reflect.Value{}, fmt.Errorf("%d overflows %s", u, typ)
		}
		out.SetInt(int64(u))
	case isUint(typ.Kind()):
		if out.OverflowUint(u) {
			return reflect.Value{}, fmt.Errorf("%d overflows %s", u, typ)
		}
		out.SetUint(u)
	default:
		out.SetFloat(float64(u))
	}
	return out, nil
}

func fromFloat(f float64, typ reflect.Type) (reflect.Value, error) {
	if !isInt(typ.Kind()) && !isUint(typ.Kind()) {
		out := reflect.New(typ).Elem()
		if out.OverflowFloat(f) {
			return reflect.Value{}, fmt.Errorf("%g overflows %s", f, typ)
		}
		out.SetFloat(f)
		return out, nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return reflect.Value{}, fmt.Errorf("%g is not an integer", f)
	}
	// 2^63 and 2^64 are exact float64 values; anything at or above them
	// cannot be converted without wrapping.
	switch {
	case f < 0 && f >= math.MinInt64:
		return fromInt(int64(f), typ)
	case f >= 0 && f < 1<<63:
		return fromInt(int64(f), typ)
	case f >= 0 && f < 1<<64:
		return fromUint(uint64(f), typ)
	}
	return reflect.Value{}, fmt.Errorf("%g overflows %s", f, typ)
}

func isInt(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return true
	}
	return false
}

func isUint(k reflect.Kind) bool {
	switch k {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return true
	}
	return false
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Float32, reflect.Float64:
		return true
	}
	return isInt(k) || isUint(k)
}
