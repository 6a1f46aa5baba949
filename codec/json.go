package codec

import (
	"reflect"

	json "github.com/goccy/go-json"
	"github.com/pkg/errors"
)

var _ Codec = JSON{}

type envelope struct {
	Type  string          `json:"t"`
	Value json.RawMessage `json:"v"`
}

// NewJSON creates JSON codec resolving polymorphic values through types.
func NewJSON(types *Types) JSON {
	if types == nil {
		types = NewTypes()
	}
	return JSON{types: types}
}

// JSON is the JSON codec.
type JSON struct {
	types *Types
}

// Encode encodes value.
func (c JSON) Encode(v any, polymorphic bool) ([]byte, error) {
	if !polymorphic {
		data, err := json.Marshal(v)
		return data, errors.WithStack(err)
	}

	tag, exists := c.types.Tag(v)
	if !exists {
		return nil, errors.Wrapf(ErrUnknownType, "type %T", v)
	}

	value, err := json.Marshal(v)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	data, err := json.Marshal(envelope{
		Type:  tag,
		Value: value,
	})
	return data, errors.WithStack(err)
}

// Decode decodes data into v, which must be a pointer.
func (c JSON) Decode(data []byte, v any, polymorphic bool) error {
	if !polymorphic {
		return errors.WithStack(json.Unmarshal(data, v))
	}

	target := reflect.ValueOf(v)
	if target.Kind() != reflect.Pointer || target.IsNil() {
		return errors.Errorf("decoding target must be a non-nil pointer, got %T", v)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return errors.WithStack(err)
	}

	ptr, exists := c.types.New(env.Type)
	if !exists {
		return errors.Wrapf(ErrUnknownType, "tag %q", env.Type)
	}
	if err := json.Unmarshal(env.Value, ptr); err != nil {
		return errors.WithStack(err)
	}

	value := reflect.ValueOf(ptr).Elem()
	if !value.Type().AssignableTo(target.Elem().Type()) {
		return errors.Wrapf(ErrIncompatibleType, "%s is not assignable to %s", value.Type(), target.Elem().Type())
	}
	target.Elem().Set(value)
	return nil
}
