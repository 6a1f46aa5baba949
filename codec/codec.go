// Package codec encodes call arguments, results and stream items.
package codec

import (
	"reflect"
	"sync"

	"github.com/pkg/errors"
)

var (
	// ErrUnknownType is returned when type tag is not registered.
	ErrUnknownType = errors.New("unknown type")

	// ErrIncompatibleType is returned when decoded value can't be assigned to the target.
	ErrIncompatibleType = errors.New("incompatible type")
)

// Codec encodes and decodes values. Polymorphic values carry the type tag resolved through the
// closed type table, so the receiver may decode them into an interface.
type Codec interface {
	Encode(v any, polymorphic bool) ([]byte, error)
	Decode(data []byte, v any, polymorphic bool) error
}

// Types is the closed table mapping type tags to types.
type Types struct {
	mu     sync.RWMutex
	byTag  map[string]func() any
	byType map[reflect.Type]string
}

// NewTypes creates empty type table.
func NewTypes() *Types {
	return &Types{
		byTag:  map[string]func() any{},
		byType: map[reflect.Type]string{},
	}
}

// Register registers type T under tag.
func Register[T any](types *Types, tag string) error {
	if tag == "" {
		return errors.New("type tag is empty")
	}

	t := reflect.TypeFor[T]()

	types.mu.Lock()
	defer types.mu.Unlock()

	if _, exists := types.byTag[tag]; exists {
		return errors.Errorf("type tag %q already registered", tag)
	}
	if existingTag, exists := types.byType[t]; exists {
		return errors.Errorf("type %s already registered as %q", t, existingTag)
	}

	types.byTag[tag] = func() any {
		return new(T)
	}
	types.byType[t] = tag
	return nil
}

// Tag returns tag of the value's type.
func (t *Types) Tag(v any) (string, bool) {
	typ := reflect.TypeOf(v)
	if typ == nil {
		return "", false
	}

	if tag, exists := t.TypeTag(typ); exists {
		return tag, true
	}
	if typ.Kind() == reflect.Pointer {
		return t.TypeTag(typ.Elem())
	}
	return "", false
}

// New returns pointer to the new zero value of type registered under tag.
func (t *Types) New(tag string) (any, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	newFn, exists := t.byTag[tag]
	if !exists {
		return nil, false
	}
	return newFn(), true
}

// TypeTag returns tag registered for type t.
func (t *Types) TypeTag(typ reflect.Type) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	tag, exists := t.byType[typ]
	return tag, exists
}
