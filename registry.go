// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package tdmux

import (
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
	"sync"
)

// Capability describes the role of a registered type.
type Capability byte

const (
	DataObject Capability = 1 // a result, event, or plain data object
	Function   Capability = 2 // a request the engine can execute
)

func (c Capability) String() string {
	switch c {
	case DataObject:
		return "object"
	case Function:
		return "function"
	default:
		return fmt.Sprintf("capability %d", byte(c))
	}
}

// A Decoder decodes the complete wire encoding of an object into a value.
// The data may contain reserved and unknown fields, which a decoder should
// ignore.
type Decoder func(data []byte) (Object, error)

type typeInfo struct {
	cap Capability
	dec Decoder
}

// A Registry maps discriminants to decoders. The zero value is not ready for
// use; call NewRegistry to construct one. A Registry is safe for concurrent
// use, but it is meant to be populated once at startup from a schema table
// and only read afterward.
type Registry struct {
	μ     sync.RWMutex
	types map[string]typeInfo
}

// NewRegistry constructs a registry containing only the protocol "error" type,
// which decodes as a *RemoteError.
func NewRegistry() *Registry {
	r := &Registry{types: make(map[string]typeInfo)}
	RegisterType[RemoteError](r, DataObject)
	return r
}

// Register adds a decoder for the named type with the given capability.  It
// reports an error wrapping ErrDuplicateDiscriminant if name is already
// registered; the existing registration is not modified.
func (r *Registry) Register(name string, c Capability, dec Decoder) error {
	if name == "" {
		return fmt.Errorf("register: empty discriminant")
	} else if dec == nil {
		return fmt.Errorf("register %q: nil decoder", name)
	}
	r.μ.Lock()
	defer r.μ.Unlock()
	if _, ok := r.types[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateDiscriminant, name)
	}
	r.types[name] = typeInfo{cap: c, dec: dec}
	return nil
}

// MustRegister is as Register, but panics if registration fails. It returns r
// to permit chaining.
func (r *Registry) MustRegister(name string, c Capability, dec Decoder) *Registry {
	if err := r.Register(name, c, dec); err != nil {
		panic(err)
	}
	return r
}

// RegisterType registers a JSON decoder for the type named by (*T).Type().
//
// The decoder unmarshals into a new *T and then replaces any nil slice or map
// reachable through the fields of T with an empty one, so that fields absent
// from the payload decode as their documented defaults.
func RegisterType[T any, P interface {
	*T
	Object
}](r *Registry, c Capability) error {
	name := P(new(T)).Type()
	return r.Register(name, c, func(data []byte) (Object, error) {
		v := P(new(T))
		if err := json.Unmarshal(data, v); err != nil {
			return nil, err
		}
		FillDefaults(v)
		return v, nil
	})
}

// Decode decodes data as a value of the named type. It reports an error
// wrapping ErrUnknownDiscriminant if name is not registered, or wrapping
// ErrMalformedPayload if the decoder fails. The decoder's own error remains in
// the chain, so a nested value of an unknown type also matches
// ErrUnknownDiscriminant.
func (r *Registry) Decode(name string, data []byte) (Object, error) {
	r.μ.RLock()
	ti, ok := r.types[name]
	r.μ.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDiscriminant, name)
	}
	v, err := ti.dec(data)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", ErrMalformedPayload, name, err)
	}
	return v, nil
}

// DecodeMessage decodes the envelope of data and then its value, according to
// the @type in the envelope. An object without an @type is malformed, since
// no other context is available to select a decoder.
//
// If the envelope decodes but the value does not, DecodeMessage returns the
// message with a nil Value along with the error, so the caller can still
// route the failure.
func (r *Registry) DecodeMessage(data []byte) (*Message, error) {
	env, err := DecodeEnvelope(data)
	if err != nil {
		return nil, err
	} else if env.Type == "" {
		return nil, fmt.Errorf("%w: missing %s", ErrMalformedPayload, KeyType)
	}
	msg := &Message{Envelope: env, Raw: data}
	msg.Value, err = r.Decode(env.Type, data)
	return msg, err
}

// Capability reports the capability of the named type, and whether it is
// registered.
func (r *Registry) Capability(name string) (Capability, bool) {
	r.μ.RLock()
	defer r.μ.RUnlock()
	ti, ok := r.types[name]
	return ti.cap, ok
}

// Names returns the registered discriminants in lexicographic order.
func (r *Registry) Names() []string {
	r.μ.RLock()
	defer r.μ.RUnlock()
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Len reports the number of registered types.
func (r *Registry) Len() int {
	r.μ.RLock()
	defer r.μ.RUnlock()
	return len(r.types)
}

// FillDefaults replaces nil slices and maps reachable from v through exported
// struct fields, pointers, slice elements, and non-nil interface fields
// holding pointers with empty values. Nil pointers are left alone. The
// argument must be a pointer.
func FillDefaults(v any) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return
	}
	fillValue(rv.Elem())
}

func fillValue(v reflect.Value) {
	switch v.Kind() {
	case reflect.Pointer:
		if !v.IsNil() {
			fillValue(v.Elem())
		}
	case reflect.Interface:
		// The dynamic value of an interface is not addressable unless it is
		// reached through a pointer.
		if !v.IsNil() && v.Elem().Kind() == reflect.Pointer {
			fillValue(v.Elem())
		}
	case reflect.Struct:
		t := v.Type()
		for i := range t.NumField() {
			if t.Field(i).IsExported() {
				fillValue(v.Field(i))
			}
		}
	case reflect.Slice:
		if v.IsNil() {
			if v.CanSet() && v.Type().Elem().Kind() != reflect.Uint8 {
				v.Set(reflect.MakeSlice(v.Type(), 0, 0))
			}
			return
		}
		for i := range v.Len() {
			fillValue(v.Index(i))
		}
	case reflect.Map:
		if v.IsNil() && v.CanSet() {
			v.Set(reflect.MakeMap(v.Type()))
		}
	}
}
