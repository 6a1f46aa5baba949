package tether

import (
	"context"
	"reflect"

	"github.com/pkg/errors"

	"github.com/outofforest/tether/codec"
)

const systemService = "$sys"

type methodKind int

const (
	methodRegular methodKind = iota
	methodNoWait
	methodStream
)

// Method describes method served by the hub.
type Method struct {
	name              string
	kind              methodKind
	argsType          reflect.Type
	argsPolymorphic   bool
	resultPolymorphic bool
	decode            func(c codec.Codec, data []byte) (any, error)
	invoke            func(ctx context.Context, args any) (any, error)
}

// Name returns the name of the method.
func (m Method) Name() string {
	return m.name
}

// Unary defines method returning result.
func Unary[Req, Resp any](name string, handler func(ctx context.Context, req Req) (Resp, error)) Method {
	return Method{
		name:              name,
		kind:              methodRegular,
		argsType:          reflect.TypeFor[Req](),
		argsPolymorphic:   isPolymorphic[Req](),
		resultPolymorphic: isPolymorphic[Resp](),
		decode:            decodeArgs[Req],
		invoke: func(ctx context.Context, args any) (any, error) {
			req, ok := args.(Req)
			if !ok {
				return nil, errors.Wrapf(ErrIncompatibleArguments, "expected %s, got %T", reflect.TypeFor[Req](), args)
			}
			return handler(ctx, req)
		},
	}
}

// OneWay defines fire-and-forget method.
func OneWay[Req any](name string, handler func(ctx context.Context, req Req) error) Method {
	return Method{
		name:            name,
		kind:            methodNoWait,
		argsType:        reflect.TypeFor[Req](),
		argsPolymorphic: isPolymorphic[Req](),
		decode:          decodeArgs[Req],
		invoke: func(ctx context.Context, args any) (any, error) {
			req, ok := args.(Req)
			if !ok {
				return nil, errors.Wrapf(ErrIncompatibleArguments, "expected %s, got %T", reflect.TypeFor[Req](), args)
			}
			return nil, handler(ctx, req)
		},
	}
}

// Streaming defines method returning stream of items.
func Streaming[Req, Item any](name string, handler func(ctx context.Context, req Req) (Source[Item], error)) Method {
	return Method{
		name:              name,
		kind:              methodStream,
		argsType:          reflect.TypeFor[Req](),
		argsPolymorphic:   isPolymorphic[Req](),
		resultPolymorphic: isPolymorphic[Item](),
		decode:            decodeArgs[Req],
		invoke: func(ctx context.Context, args any) (any, error) {
			req, ok := args.(Req)
			if !ok {
				return nil, errors.Wrapf(ErrIncompatibleArguments, "expected %s, got %T", reflect.TypeFor[Req](), args)
			}
			source, err := handler(ctx, req)
			if err != nil {
				return nil, err
			}
			return erasedSource{
				next: func(ctx context.Context) (any, error) {
					return source(ctx)
				},
				polymorphic: isPolymorphic[Item](),
			}, nil
		},
	}
}

// Service is the named set of methods.
type Service struct {
	Name    string
	Methods []Method
}

// NewService creates service.
func NewService(name string, methods ...Method) Service {
	return Service{
		Name:    name,
		Methods: methods,
	}
}

type methodRef struct {
	Service string
	Method  string
}

type resolvedMethod struct {
	Method

	Service string
	ArgsTag string
}

type serviceRegistry struct {
	methods map[methodRef]*resolvedMethod
}

func newServiceRegistry(types *codec.Types, services []Service) (*serviceRegistry, error) {
	r := &serviceRegistry{
		methods: map[methodRef]*resolvedMethod{},
	}
	for _, s := range services {
		if s.Name == "" {
			return nil, errors.New("service name is empty")
		}
		if s.Name == systemService {
			return nil, errors.Errorf("service name %q is reserved", s.Name)
		}
		for _, m := range s.Methods {
			if m.name == "" {
				return nil, errors.Errorf("method name in service %q is empty", s.Name)
			}
			if m.invoke == nil {
				return nil, errors.Errorf("method %s.%s has no handler", s.Name, m.name)
			}

			ref := methodRef{Service: s.Name, Method: m.name}
			if _, exists := r.methods[ref]; exists {
				return nil, errors.Errorf("method %s.%s is defined twice", s.Name, m.name)
			}
			r.methods[ref] = &resolvedMethod{
				Method:  m,
				Service: s.Name,
				ArgsTag: typeTag(types, m.argsType),
			}
		}
	}
	return r, nil
}

func (r *serviceRegistry) Resolve(service, method string) (*resolvedMethod, bool) {
	m, exists := r.methods[methodRef{Service: service, Method: method}]
	return m, exists
}

// typeTag returns tag used to detect argument type drift between peers. Registered types use
// their registered tags, builtin types their names. Other types are not checked.
func typeTag(types *codec.Types, t reflect.Type) string {
	if tag, exists := types.TypeTag(t); exists {
		return tag
	}
	if t.PkgPath() == "" && t.Name() != "" {
		return t.Name()
	}
	return ""
}

func isPolymorphic[T any]() bool {
	return reflect.TypeFor[T]().Kind() == reflect.Interface
}

func decodeArgs[T any](c codec.Codec, data []byte) (any, error) {
	var v T
	if err := c.Decode(data, &v, isPolymorphic[T]()); err != nil {
		return nil, errors.Wrapf(ErrIncompatibleArguments, "decoding arguments failed: %s", err)
	}
	return v, nil
}
