// Package schematransform implements a generic GraphQL schema
// clone-and-transform pass: it walks every named type reachable from a
// graphql-go/graphql schema, reconstructs each one through a small set of
// per-category callbacks, and returns a brand-new schema. It is the engine
// that namespace-prefixing (endpoint isolation) and link/proxy-resolver
// installation are both built on top of.
//
// The two-phase ordering below exists because of one asymmetry in
// graphql-go/graphql's type system: an Object's Interfaces are resolved
// eagerly at construction time, while its Fields may be supplied as a
// FieldsThunk and are only evaluated the first time something asks for
// them. Cloning interfaces first guarantees that, by the time any object
// is constructed, every interface it implements already exists as a
// *graphql.Interface the object can reference directly. Fields, being
// thunked, can freely name a type that is cloned later -- including the
// type being defined itself, or a type that in turn has a field of this
// type -- because the thunk body only runs after every named type in the
// schema has been cloned.
package schematransform

import (
	"fmt"
	"sort"

	"github.com/graphql-go/graphql"
)

var nativeScalars = map[graphql.Type]bool{
	graphql.Int:     true,
	graphql.Float:   true,
	graphql.String:  true,
	graphql.Boolean: true,
	graphql.ID:      true,
}

var nativeDirectiveNames = map[string]bool{
	"skip":       true,
	"include":    true,
	"deprecated": true,
}

// IsNativeType reports whether t is a built-in scalar or an introspection
// type (whose name begins with "__"); both are passed through to the new
// schema unchanged, by reference.
func IsNativeType(t graphql.Type) bool {
	if nativeScalars[t] {
		return true
	}
	name := t.Name()
	return len(name) >= 2 && name[:2] == "__"
}

// IsNativeDirective reports whether d is one of @skip, @include, or
// @deprecated.
func IsNativeDirective(d *graphql.Directive) bool {
	return nativeDirectiveNames[d.Name]
}

// Context is passed to every transformer callback and exposes the
// in-progress type map.
type Context struct {
	types map[string]graphql.Type
}

// FindType looks up a named type by its old name in the partial (or, once
// Transform has returned, complete) new type map. Looking up a type that
// has not been cloned yet (i.e. a non-interface type referenced eagerly,
// rather than through a field thunk) is a contract violation.
func (c *Context) FindType(oldName string) (graphql.Type, error) {
	t, ok := c.types[oldName]
	if !ok {
		return nil, &UnknownTypeReferenceError{Name: oldName}
	}
	return t, nil
}

// MapType maps an old type reference to its new counterpart, recursing
// through List and NonNull wrappers and returning native types unchanged,
// by reference.
func (c *Context) MapType(old graphql.Type) (graphql.Type, error) {
	switch t := old.(type) {
	case *graphql.List:
		inner, err := c.MapType(t.OfType)
		if err != nil {
			return nil, err
		}
		return graphql.NewList(inner), nil
	case *graphql.NonNull:
		inner, err := c.MapType(t.OfType)
		if err != nil {
			return nil, err
		}
		return graphql.NewNonNull(inner), nil
	default:
		if IsNativeType(t) {
			return t, nil
		}
		return c.FindType(t.Name())
	}
}

// TransformTypeResolver wraps an abstract type's old ResolveTypeFn so that
// it returns the corresponding type in the new schema. A nil old resolver
// maps to nil, leaving the new type on graphql-go/graphql's default
// resolution, which asks each possible type's IsTypeOf and does not read
// __typename; a transformer that needs __typename-based resolution installs
// its own ResolveType (the weaver's NamespaceTransformer does).
func TransformTypeResolver(old graphql.ResolveTypeFn, ctx *Context) graphql.ResolveTypeFn {
	if old == nil {
		return nil
	}
	return func(p graphql.ResolveTypeParams) *graphql.Object {
		oldResult := old(p)
		if oldResult == nil {
			return nil
		}
		mapped, err := ctx.MapType(oldResult)
		if err != nil {
			return nil
		}
		newObj, _ := mapped.(*graphql.Object)
		return newObj
	}
}

// TransformerSet is a record of optional, per-AST-category callbacks. Each
// callback receives a mutable config record -- the constructor input for
// that category in the new schema -- plus the shared Context. A callback
// may mutate the config; the new type it describes does not exist yet, so
// the callback must not retain a reference to it.
type TransformerSet struct {
	Scalar      []func(cfg *graphql.ScalarConfig, old *graphql.Scalar, ctx *Context)
	Enum        []func(cfg *graphql.EnumConfig, old *graphql.Enum, ctx *Context)
	Interface   []func(cfg *graphql.InterfaceConfig, old *graphql.Interface, ctx *Context)
	Union       []func(cfg *graphql.UnionConfig, old *graphql.Union, ctx *Context)
	InputObject []func(cfg *graphql.InputObjectConfig, old *graphql.InputObject, ctx *Context)
	Object      []func(cfg *graphql.ObjectConfig, old *graphql.Object, ctx *Context)
	Directive   []func(cfg *graphql.DirectiveConfig, old *graphql.Directive, ctx *Context)
	// Field fires once per field of every object/interface being cloned,
	// after the config's own Fields thunk would otherwise be finalized,
	// letting a callback replace e.g. Resolve.
	Field []func(parentName, fieldName string, cfg *graphql.Field, old *graphql.FieldDefinition, ctx *Context)
	// InputField is the InputObject analog of Field.
	InputField []func(parentName, fieldName string, cfg *graphql.InputObjectFieldConfig, old *graphql.InputObjectField, ctx *Context)
}

// Combine fuses any number of transformer sets into one, associative, with
// Combine() (no arguments) as the right identity. For each category, every
// set's callbacks for that category fire left-to-right against the same
// config; a callback's failure (a panic) is not caught here and propagates
// to the caller of Transform.
func Combine(sets ...TransformerSet) TransformerSet {
	var out TransformerSet
	for _, s := range sets {
		out.Scalar = append(out.Scalar, s.Scalar...)
		out.Enum = append(out.Enum, s.Enum...)
		out.Interface = append(out.Interface, s.Interface...)
		out.Union = append(out.Union, s.Union...)
		out.InputObject = append(out.InputObject, s.InputObject...)
		out.Object = append(out.Object, s.Object...)
		out.Directive = append(out.Directive, s.Directive...)
		out.Field = append(out.Field, s.Field...)
		out.InputField = append(out.InputField, s.InputField...)
	}
	return out
}

// Transform clones oldSchema, running every named type (and every
// directive) through transformers, and returns the resulting schema.
func Transform(oldSchema *graphql.Schema, transformers TransformerSet) (*graphql.Schema, error) {
	ctx := &Context{types: make(map[string]graphql.Type)}

	oldTypes := oldSchema.TypeMap()
	names := make([]string, 0, len(oldTypes))
	for name := range oldTypes {
		names = append(names, name)
	}
	sort.Strings(names)

	// Phase 1: interfaces (and native types, trivially). Interfaces must
	// all exist before any object is constructed, since Object.Interfaces
	// is resolved eagerly.
	for _, name := range names {
		old := oldTypes[name]
		if IsNativeType(old) {
			ctx.types[name] = old
			continue
		}
		iface, ok := old.(*graphql.Interface)
		if !ok {
			continue
		}
		cloned, err := cloneInterface(iface, transformers, ctx)
		if err != nil {
			return nil, fmt.Errorf("cloning interface %q: %w", name, err)
		}
		ctx.types[name] = cloned
	}

	// Phase 2: scalars, enums, and input objects. None of these can name
	// an Object, and their own fields/values are resolved eagerly (unlike
	// Fields/FieldsThunk, graphql-go/graphql has no thunked variant of
	// InputObjectConfigFieldMap), so a forward reference from one input
	// object to another defined later in this phase is not supported.
	for _, name := range names {
		old := oldTypes[name]
		if IsNativeType(old) {
			continue
		}
		var (
			cloned graphql.Type
			err    error
		)
		switch t := old.(type) {
		case *graphql.Scalar:
			cloned, err = cloneScalar(t, transformers, ctx)
		case *graphql.Enum:
			cloned, err = cloneEnum(t, transformers, ctx)
		case *graphql.InputObject:
			cloned, err = cloneInputObject(t, transformers, ctx)
		default:
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("cloning type %q: %w", name, err)
		}
		ctx.types[name] = cloned
	}

	// Phase 3: objects. Interfaces is resolved eagerly against the
	// already-complete interface set from phase 1; Fields is thunked, so
	// forward references -- including self-reference and mutual
	// object/object reference -- are safe.
	for _, name := range names {
		old, ok := oldTypes[name].(*graphql.Object)
		if !ok || IsNativeType(old) {
			continue
		}
		cloned, err := cloneObject(old, transformers, ctx)
		if err != nil {
			return nil, fmt.Errorf("cloning object %q: %w", name, err)
		}
		ctx.types[name] = cloned
	}

	// Phase 4: unions. Types is a plain, eagerly-resolved []*Object, so
	// every member must already exist -- guaranteed by running this phase
	// after phase 3.
	for _, name := range names {
		old, ok := oldTypes[name].(*graphql.Union)
		if !ok {
			continue
		}
		cloned, err := cloneUnion(old, transformers, ctx)
		if err != nil {
			return nil, fmt.Errorf("cloning union %q: %w", name, err)
		}
		ctx.types[name] = cloned
	}

	directives := make([]*graphql.Directive, 0, len(oldSchema.Directives()))
	for _, d := range oldSchema.Directives() {
		if IsNativeDirective(d) {
			directives = append(directives, d)
			continue
		}
		cloned, err := cloneDirective(d, transformers, ctx)
		if err != nil {
			return nil, fmt.Errorf("cloning directive %q: %w", d.Name, err)
		}
		directives = append(directives, cloned)
	}

	cfg := graphql.SchemaConfig{Directives: directives}

	if q := oldSchema.QueryType(); q != nil {
		t, err := ctx.FindType(q.Name())
		if err != nil {
			return nil, err
		}
		cfg.Query = t.(*graphql.Object)
	}
	if m := oldSchema.MutationType(); m != nil {
		t, err := ctx.FindType(m.Name())
		if err != nil {
			return nil, err
		}
		cfg.Mutation = t.(*graphql.Object)
	}
	if s := oldSchema.SubscriptionType(); s != nil {
		t, err := ctx.FindType(s.Name())
		if err != nil {
			return nil, err
		}
		cfg.Subscription = t.(*graphql.Object)
	}

	for _, name := range names {
		cfg.Types = append(cfg.Types, ctx.types[name])
	}
	seen := map[string]graphql.Type{}
	for _, t := range cfg.Types {
		if t == nil {
			fmt.Println("DEBUG nil type in cfg.Types")
			continue
		}
		if prev, ok := seen[t.Name()]; ok {
			fmt.Printf("DEBUG duplicate name %q prev=%p new=%p equal=%v\n", t.Name(), prev, t, prev == t)
		}
		seen[t.Name()] = t
	}
	fmt.Printf("DEBUG cfg.Types len=%d unique names=%d\n", len(cfg.Types), len(seen))


	return buildSchemaSafely(cfg)
}

// buildSchemaSafely calls graphql.NewSchema, recovering a panic raised from
// inside a FieldsThunk. Thunks have no error return of their own (mirroring
// graphql-js), so a field or argument whose type a transformer callback
// could not map panics with the underlying error; NewSchema forces every
// thunk while walking the type map for introspection, so that panic always
// surfaces here, synchronously, never at query time.
func buildSchemaSafely(cfg graphql.SchemaConfig) (schema *graphql.Schema, err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = e
			} else {
				err = fmt.Errorf("schematransform: %v", r)
			}
		}
	}()
	built, buildErr := graphql.NewSchema(cfg)
	if buildErr != nil {
		return nil, buildErr
	}
	return &built, nil
}
