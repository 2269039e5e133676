package introspect

import (
	"fmt"
	"sort"
	"strings"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/language/ast"
	"github.com/samsarahq/go/oops"

	"github.com/samsarahq/weaver/internal/weaver"
)

// Build reconstructs a *graphql.Schema from a raw introspection result. It
// follows the same phase ordering schematransform.Transform uses for the
// same underlying reason: graphql-go/graphql's Object.Interfaces and
// Union.Types are eager (evaluated at construction), while Object/Interface
// Fields may be a lazy FieldsThunk -- so every type a phase's eager fields
// reference must already exist in builder.types by the time that phase
// runs. Unknown custom scalars are rebuilt as an opaque JSON passthrough
// (see passthroughScalar); there is no way to recover a remote scalar's
// actual serialize/parse semantics from introspection alone.
func Build(endpointName string, schema *rawSchema) (*graphql.Schema, error) {
	b := &builder{
		endpointName: endpointName,
		raw:          map[string]rawType{},
		types:        map[string]graphql.Type{},
	}
	for _, t := range schema.Types {
		// Introspection types are supplied by graphql.NewSchema itself.
		if strings.HasPrefix(t.Name, "__") {
			continue
		}
		b.raw[t.Name] = t
	}

	var names []string
	for name := range b.raw {
		names = append(names, name)
	}
	sort.Strings(names)

	// Phase 1: interfaces (their Fields thunk may reference any type built
	// in a later phase; nothing else needs them built yet).
	for _, name := range names {
		if b.raw[name].Kind == "INTERFACE" {
			b.types[name] = b.buildInterface(b.raw[name])
		}
	}
	// Phase 2: scalars, enums, then input objects. Input object fields are
	// eager and are resolved against the types built so far, one pass in
	// name order, so an input object whose field names an input object
	// that sorts after it fails with a SchemaBuildError.
	for _, name := range names {
		switch b.raw[name].Kind {
		case "SCALAR":
			b.types[name] = b.buildScalar(b.raw[name])
		case "ENUM":
			b.types[name] = b.buildEnum(b.raw[name])
		}
	}
	for _, name := range names {
		if b.raw[name].Kind == "INPUT_OBJECT" {
			t, err := b.buildInputObject(b.raw[name])
			if err != nil {
				return nil, &weaver.SchemaBuildError{Endpoint: endpointName, Cause: err}
			}
			b.types[name] = t
		}
	}
	// Phase 3: objects (Interfaces eager, needs phase 1; Fields thunked).
	for _, name := range names {
		if b.raw[name].Kind == "OBJECT" {
			t, err := b.buildObject(b.raw[name])
			if err != nil {
				return nil, &weaver.SchemaBuildError{Endpoint: endpointName, Cause: err}
			}
			b.types[name] = t
		}
	}
	// Phase 4: unions (Types eager, needs phase 3).
	for _, name := range names {
		if b.raw[name].Kind == "UNION" {
			t, err := b.buildUnion(b.raw[name])
			if err != nil {
				return nil, &weaver.SchemaBuildError{Endpoint: endpointName, Cause: err}
			}
			b.types[name] = t
		}
	}

	cfg := graphql.SchemaConfig{}
	if schema.QueryType != nil {
		obj, err := b.objectNamed(schema.QueryType.Name)
		if err != nil {
			return nil, &weaver.SchemaBuildError{Endpoint: endpointName, Cause: err}
		}
		cfg.Query = obj
	}
	if schema.MutationType != nil {
		obj, err := b.objectNamed(schema.MutationType.Name)
		if err != nil {
			return nil, &weaver.SchemaBuildError{Endpoint: endpointName, Cause: err}
		}
		cfg.Mutation = obj
	}
	if schema.SubscriptionType != nil {
		obj, err := b.objectNamed(schema.SubscriptionType.Name)
		if err != nil {
			return nil, &weaver.SchemaBuildError{Endpoint: endpointName, Cause: err}
		}
		cfg.Subscription = obj
	}
	for _, t := range b.types {
		cfg.Types = append(cfg.Types, t)
	}

	built, err := graphql.NewSchema(cfg)
	if err != nil {
		return nil, &weaver.SchemaBuildError{Endpoint: endpointName, Cause: oops.Wrapf(err, "constructing schema")}
	}
	return &built, nil
}

type builder struct {
	endpointName string
	raw          map[string]rawType
	types        map[string]graphql.Type
}

func (b *builder) objectNamed(name string) (*graphql.Object, error) {
	t, ok := b.types[name]
	if !ok {
		return nil, fmt.Errorf("introspection: root type %q not found among introspected types", name)
	}
	obj, ok := t.(*graphql.Object)
	if !ok {
		return nil, fmt.Errorf("introspection: root type %q is not an object", name)
	}
	return obj, nil
}

func (b *builder) buildScalar(t rawType) graphql.Type {
	switch t.Name {
	case "Int":
		return graphql.Int
	case "Float":
		return graphql.Float
	case "String":
		return graphql.String
	case "Boolean":
		return graphql.Boolean
	case "ID":
		return graphql.ID
	default:
		return passthroughScalar(t.Name, t.Description)
	}
}

// passthroughScalar rebuilds an upstream custom scalar as an opaque value
// passed through unchanged: Serialize/ParseValue are the identity function,
// and ParseLiteral decodes the AST literal into its natural Go value. This
// is a best-effort reconstruction -- introspection carries no information
// about a scalar's real coercion rules.
func passthroughScalar(name, description string) *graphql.Scalar {
	identity := func(v interface{}) interface{} { return v }
	return graphql.NewScalar(graphql.ScalarConfig{
		Name:         name,
		Description:  description,
		Serialize:    identity,
		ParseValue:   identity,
		ParseLiteral: parseOpaqueLiteral,
	})
}

// parseOpaqueLiteral converts a query-literal AST node into its natural Go
// value for a passthroughScalar, the same coercion the host library applies
// to its own native scalars' literals.
func parseOpaqueLiteral(valueAST ast.Value) interface{} {
	switch v := valueAST.(type) {
	case *ast.IntValue:
		return v.Value
	case *ast.FloatValue:
		return v.Value
	case *ast.StringValue:
		return v.Value
	case *ast.BooleanValue:
		return v.Value
	case *ast.EnumValue:
		return v.Value
	case *ast.ListValue:
		out := make([]interface{}, len(v.Values))
		for i, item := range v.Values {
			out[i] = parseOpaqueLiteral(item)
		}
		return out
	case *ast.ObjectValue:
		out := make(map[string]interface{}, len(v.Fields))
		for _, f := range v.Fields {
			out[f.Name.Value] = parseOpaqueLiteral(f.Value)
		}
		return out
	default:
		return nil
	}
}

func (b *builder) buildEnum(t rawType) *graphql.Enum {
	values := make(graphql.EnumValueConfigMap, len(t.EnumValues))
	for _, v := range t.EnumValues {
		values[v.Name] = &graphql.EnumValueConfig{
			Value:             v.Name,
			Description:       v.Description,
			DeprecationReason: v.DeprecationReason,
		}
	}
	return graphql.NewEnum(graphql.EnumConfig{
		Name:        t.Name,
		Description: t.Description,
		Values:      values,
	})
}

func (b *builder) buildInputObject(t rawType) (*graphql.InputObject, error) {
	fields := make(graphql.InputObjectConfigFieldMap, len(t.InputFields))
	for _, f := range t.InputFields {
		typ, err := b.resolveType(&f.Type)
		if err != nil {
			return nil, fmt.Errorf("input field %s.%s: %w", t.Name, f.Name, err)
		}
		input, ok := typ.(graphql.Input)
		if !ok {
			return nil, fmt.Errorf("input field %s.%s did not resolve to an input type", t.Name, f.Name)
		}
		fields[f.Name] = &graphql.InputObjectFieldConfig{
			Type:         input,
			DefaultValue: f.DefaultValue,
			Description:  f.Description,
		}
	}
	obj := graphql.NewInputObject(graphql.InputObjectConfig{
		Name:        t.Name,
		Description: t.Description,
		Fields:      fields,
	})
	if err := obj.Error(); err != nil {
		return nil, err
	}
	return obj, nil
}

func (b *builder) buildInterface(t rawType) *graphql.Interface {
	iface := graphql.NewInterface(graphql.InterfaceConfig{
		Name:        t.Name,
		Description: t.Description,
		Fields:      b.buildFieldsThunk(t),
	})
	return iface
}

func (b *builder) buildObject(t rawType) (*graphql.Object, error) {
	interfaces := make([]*graphql.Interface, 0, len(t.Interfaces))
	for _, ir := range t.Interfaces {
		typ, ok := b.types[ir.Name]
		if !ok {
			return nil, fmt.Errorf("object %s implements unknown interface %q", t.Name, ir.Name)
		}
		iface, ok := typ.(*graphql.Interface)
		if !ok {
			return nil, fmt.Errorf("object %s implements %q, which is not an interface", t.Name, ir.Name)
		}
		interfaces = append(interfaces, iface)
	}

	obj := graphql.NewObject(graphql.ObjectConfig{
		Name:        t.Name,
		Description: t.Description,
		Interfaces:  interfaces,
		Fields:      b.buildFieldsThunk(t),
	})
	if err := obj.Error(); err != nil {
		return nil, err
	}
	return obj, nil
}

func (b *builder) buildUnion(t rawType) (*graphql.Union, error) {
	types := make([]*graphql.Object, 0, len(t.PossibleTypes))
	for _, pt := range t.PossibleTypes {
		typ, ok := b.types[pt.Name]
		if !ok {
			return nil, fmt.Errorf("union %s member %q not found", t.Name, pt.Name)
		}
		obj, ok := typ.(*graphql.Object)
		if !ok {
			return nil, fmt.Errorf("union %s member %q is not an object", t.Name, pt.Name)
		}
		types = append(types, obj)
	}
	union := graphql.NewUnion(graphql.UnionConfig{
		Name:        t.Name,
		Description: t.Description,
		Types:       types,
	})
	if err := union.Error(); err != nil {
		return nil, err
	}
	return union, nil
}

// buildFieldsThunk defers field construction to first access, so a field
// referencing a type built in a later phase (or the containing type
// itself) resolves correctly once the whole pass has run.
func (b *builder) buildFieldsThunk(t rawType) graphql.FieldsThunk {
	return func() graphql.Fields {
		fields := make(graphql.Fields, len(t.Fields))
		for _, f := range t.Fields {
			output, err := b.resolveType(&f.Type)
			if err != nil {
				panic(fmt.Errorf("field %s.%s: %w", t.Name, f.Name, err))
			}
			out, ok := output.(graphql.Output)
			if !ok {
				panic(fmt.Errorf("field %s.%s did not resolve to an output type", t.Name, f.Name))
			}

			args := make(graphql.FieldConfigArgument, len(f.Args))
			for _, a := range f.Args {
				argType, err := b.resolveType(&a.Type)
				if err != nil {
					panic(fmt.Errorf("field %s.%s argument %s: %w", t.Name, f.Name, a.Name, err))
				}
				input, ok := argType.(graphql.Input)
				if !ok {
					panic(fmt.Errorf("field %s.%s argument %s did not resolve to an input type", t.Name, f.Name, a.Name))
				}
				args[a.Name] = &graphql.ArgumentConfig{Type: input, DefaultValue: a.DefaultValue, Description: a.Description}
			}

			fields[f.Name] = &graphql.Field{
				Name:              f.Name,
				Type:              out,
				Args:              args,
				DeprecationReason: f.DeprecationReason,
				Description:       f.Description,
			}
		}
		return fields
	}
}

// resolveType walks a TypeRef's NON_NULL/LIST wrapping down to a named
// type, which must already be present in b.types.
func (b *builder) resolveType(ref *rawTypRef) (graphql.Type, error) {
	switch ref.Kind {
	case "NON_NULL":
		if ref.OfType == nil {
			return nil, fmt.Errorf("NON_NULL type missing ofType")
		}
		inner, err := b.resolveType(ref.OfType)
		if err != nil {
			return nil, err
		}
		return graphql.NewNonNull(inner), nil
	case "LIST":
		if ref.OfType == nil {
			return nil, fmt.Errorf("LIST type missing ofType")
		}
		inner, err := b.resolveType(ref.OfType)
		if err != nil {
			return nil, err
		}
		return graphql.NewList(inner), nil
	default:
		t, ok := b.types[ref.Name]
		if !ok {
			return nil, fmt.Errorf("unknown type %q", ref.Name)
		}
		return t, nil
	}
}
