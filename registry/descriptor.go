package registry

import (
	"fmt"
	"reflect"

	"github.com/glimte/mmate-eventbus/contracts"
)

// TypeKey identifies a Go payload type. Obtain one with KeyOf.
type TypeKey struct {
	t reflect.Type
}

// KeyOf returns the TypeKey of T
func KeyOf[T any]() TypeKey {
	return TypeKey{t: reflect.TypeOf((*T)(nil)).Elem()}
}

// KeyOfValue returns the TypeKey of the dynamic type of v. A nil v yields the
// zero key.
func KeyOfValue(v any) TypeKey {
	if v == nil {
		return TypeKey{}
	}
	return TypeKey{t: reflect.TypeOf(v)}
}

// IsZero reports whether the key is unset
func (k TypeKey) IsZero() bool {
	return k.t == nil
}

// Name returns the bare type name, e.g. "OrderPlaced"
func (k TypeKey) Name() string {
	if k.t == nil {
		return ""
	}
	return k.t.Name()
}

// String returns the qualified type name for diagnostics
func (k TypeKey) String() string {
	if k.t == nil {
		return "<none>"
	}
	return k.t.String()
}

// UnmarshalFunc decodes data into v
type UnmarshalFunc func(data []byte, v any) error

// Descriptor describes a registered payload type
type Descriptor struct {
	name           string
	key            TypeKey
	decode         func(data []byte, unmarshal UnmarshalFunc) (any, bool, error)
	decodeEnvelope func(data []byte, unmarshal UnmarshalFunc) (any, contracts.EnvelopeMetadata, bool, error)
	wrap           func(payload any, meta contracts.EnvelopeMetadata) (any, error)
}

// Describe creates the descriptor of T. An empty name defaults to the Go type
// name of T.
func Describe[T any](name string) Descriptor {
	key := KeyOf[T]()
	if name == "" {
		name = key.Name()
	}

	return Descriptor{
		name: name,
		key:  key,
		decode: func(data []byte, unmarshal UnmarshalFunc) (any, bool, error) {
			var v *T
			if err := unmarshal(data, &v); err != nil {
				return nil, false, err
			}
			if v == nil {
				return nil, false, nil
			}
			return *v, true, nil
		},
		decodeEnvelope: func(data []byte, unmarshal UnmarshalFunc) (any, contracts.EnvelopeMetadata, bool, error) {
			var env *contracts.Envelope[T]
			if err := unmarshal(data, &env); err != nil {
				return nil, contracts.EnvelopeMetadata{}, false, err
			}
			if env == nil {
				return nil, contracts.EnvelopeMetadata{}, false, nil
			}
			return env.Payload, env.Meta, true, nil
		},
		wrap: func(payload any, meta contracts.EnvelopeMetadata) (any, error) {
			typed, ok := payload.(T)
			if !ok {
				return nil, fmt.Errorf("cannot wrap %T as %s", payload, key)
			}
			return contracts.NewEnvelope(typed, meta), nil
		},
	}
}

// Name returns the event name
func (d Descriptor) Name() string {
	return d.name
}

// Key returns the payload TypeKey
func (d Descriptor) Key() TypeKey {
	return d.key
}

// IsZero reports whether the descriptor is unset
func (d Descriptor) IsZero() bool {
	return d.key.IsZero()
}

// Decode decodes a bare payload. ok is false when data decodes to no value.
func (d Descriptor) Decode(data []byte, unmarshal UnmarshalFunc) (payload any, ok bool, err error) {
	if d.decode == nil {
		return nil, false, fmt.Errorf("descriptor %q cannot decode", d.name)
	}
	return d.decode(data, unmarshal)
}

// DecodeEnvelope decodes an enveloped payload and returns the unwrapped payload
// together with the envelope metadata
func (d Descriptor) DecodeEnvelope(data []byte, unmarshal UnmarshalFunc) (payload any, meta contracts.EnvelopeMetadata, ok bool, err error) {
	if d.decodeEnvelope == nil {
		return nil, contracts.EnvelopeMetadata{}, false, fmt.Errorf("descriptor %q cannot decode envelopes", d.name)
	}
	return d.decodeEnvelope(data, unmarshal)
}

// Wrap places payload in a contracts.Envelope of the described type
func (d Descriptor) Wrap(payload any, meta contracts.EnvelopeMetadata) (any, error) {
	if d.wrap == nil {
		return nil, fmt.Errorf("descriptor %q cannot wrap payloads", d.name)
	}
	return d.wrap(payload, meta)
}

// String returns name(type)
func (d Descriptor) String() string {
	return fmt.Sprintf("%s(%s)", d.name, d.key)
}
