package schematransform

import (
	"fmt"
	"sort"

	"github.com/graphql-go/graphql"
)

func cloneScalar(old *graphql.Scalar, t TransformerSet, ctx *Context) (*graphql.Scalar, error) {
	cfg := graphql.ScalarConfig{
		Name:         old.Name(),
		Description:  old.Description(),
		Serialize:    old.Serialize,
		ParseValue:   old.ParseValue,
		ParseLiteral: old.ParseLiteral,
	}
	for _, fn := range t.Scalar {
		fn(&cfg, old, ctx)
	}
	cloned := graphql.NewScalar(cfg)
	if err := cloned.Error(); err != nil {
		return nil, err
	}
	return cloned, nil
}

func cloneEnum(old *graphql.Enum, t TransformerSet, ctx *Context) (*graphql.Enum, error) {
	oldValues := old.Values()
	values := make(graphql.EnumValueConfigMap, len(oldValues))
	for _, v := range oldValues {
		values[v.Name] = &graphql.EnumValueConfig{
			Value:             v.Value,
			Description:       v.Description,
			DeprecationReason: v.DeprecationReason,
		}
	}
	cfg := graphql.EnumConfig{
		Name:        old.Name(),
		Description: old.Description(),
		Values:      values,
	}
	for _, fn := range t.Enum {
		fn(&cfg, old, ctx)
	}
	cloned := graphql.NewEnum(cfg)
	if err := cloned.Error(); err != nil {
		return nil, err
	}
	return cloned, nil
}

func cloneInputObject(old *graphql.InputObject, t TransformerSet, ctx *Context) (*graphql.InputObject, error) {
	oldFields := old.Fields()
	names := sortedFieldNames(oldFields)

	fields := make(graphql.InputObjectConfigFieldMap, len(oldFields))
	for _, name := range names {
		oldField := oldFields[name]
		newType, err := ctx.MapType(oldField.Type)
		if err != nil {
			return nil, fmt.Errorf("input field %q.%q: %w", old.Name(), name, err)
		}
		cfg := &graphql.InputObjectFieldConfig{
			Type:         newType,
			DefaultValue: oldField.DefaultValue,
			Description:  oldField.Description(),
		}
		for _, fn := range t.InputField {
			fn(old.Name(), name, cfg, oldField, ctx)
		}
		fields[name] = cfg
	}

	cfg := graphql.InputObjectConfig{
		Name:        old.Name(),
		Description: old.Description(),
		Fields:      fields,
	}
	for _, fn := range t.InputObject {
		fn(&cfg, old, ctx)
	}
	cloned := graphql.NewInputObject(cfg)
	if err := cloned.Error(); err != nil {
		return nil, err
	}
	return cloned, nil
}

func cloneInterface(old *graphql.Interface, t TransformerSet, ctx *Context) (*graphql.Interface, error) {
	cfg := graphql.InterfaceConfig{
		Name:        old.Name(),
		Description: old.Description(),
		Fields:      buildFieldsThunk(old.Name(), old.Fields(), t, ctx),
		ResolveType: TransformTypeResolver(old.ResolveType, ctx),
	}
	for _, fn := range t.Interface {
		fn(&cfg, old, ctx)
	}
	cloned := graphql.NewInterface(cfg)
	if err := cloned.Error(); err != nil {
		return nil, err
	}
	return cloned, nil
}

func cloneObject(old *graphql.Object, t TransformerSet, ctx *Context) (*graphql.Object, error) {
	oldInterfaces := old.Interfaces()
	interfaces := make([]*graphql.Interface, len(oldInterfaces))
	for i, oi := range oldInterfaces {
		mapped, err := ctx.FindType(oi.Name())
		if err != nil {
			return nil, fmt.Errorf("object %q implements %w", old.Name(), err)
		}
		iface, ok := mapped.(*graphql.Interface)
		if !ok {
			return nil, fmt.Errorf("schematransform: %q mapped to a non-interface type implementing object %q", oi.Name(), old.Name())
		}
		interfaces[i] = iface
	}

	cfg := graphql.ObjectConfig{
		Name:        old.Name(),
		Description: old.Description(),
		Interfaces:  interfaces,
		Fields:      buildFieldsThunk(old.Name(), old.Fields(), t, ctx),
	}
	for _, fn := range t.Object {
		fn(&cfg, old, ctx)
	}
	cloned := graphql.NewObject(cfg)
	if err := cloned.Error(); err != nil {
		return nil, err
	}
	return cloned, nil
}

func cloneUnion(old *graphql.Union, t TransformerSet, ctx *Context) (*graphql.Union, error) {
	oldTypes := old.Types()
	types := make([]*graphql.Object, len(oldTypes))
	for i, ot := range oldTypes {
		mapped, err := ctx.FindType(ot.Name())
		if err != nil {
			return nil, fmt.Errorf("union %q member %w", old.Name(), err)
		}
		obj, ok := mapped.(*graphql.Object)
		if !ok {
			return nil, fmt.Errorf("schematransform: %q mapped to a non-object type in union %q", ot.Name(), old.Name())
		}
		types[i] = obj
	}

	cfg := graphql.UnionConfig{
		Name:        old.Name(),
		Description: old.Description(),
		Types:       types,
		ResolveType: TransformTypeResolver(old.ResolveType, ctx),
	}
	for _, fn := range t.Union {
		fn(&cfg, old, ctx)
	}
	cloned := graphql.NewUnion(cfg)
	if err := cloned.Error(); err != nil {
		return nil, err
	}
	return cloned, nil
}

func cloneDirective(old *graphql.Directive, t TransformerSet, ctx *Context) (*graphql.Directive, error) {
	args := make(graphql.FieldConfigArgument, len(old.Args))
	for _, a := range old.Args {
		newType, err := ctx.MapType(a.Type)
		if err != nil {
			return nil, fmt.Errorf("directive %q argument %q: %w", old.Name, a.Name(), err)
		}
		input, ok := newType.(graphql.Input)
		if !ok {
			return nil, fmt.Errorf("schematransform: argument %q of directive %q did not map to an input type", a.Name(), old.Name)
		}
		args[a.Name()] = &graphql.ArgumentConfig{
			Type:         input,
			DefaultValue: a.DefaultValue,
			Description:  a.Description(),
		}
	}

	cfg := graphql.DirectiveConfig{
		Name:        old.Name,
		Description: old.Description,
		Locations:   old.Locations,
		Args:        args,
	}
	for _, fn := range t.Directive {
		fn(&cfg, old, ctx)
	}
	return graphql.NewDirective(cfg), nil
}

// buildFieldsThunk returns a graphql.FieldsThunk that lazily builds the new
// Fields map for an object or interface named parentName. Building is
// deferred so that any field referencing a type cloned later in the same
// Transform pass -- including parentName itself -- resolves correctly by
// the time the thunk actually runs.
func buildFieldsThunk(parentName string, oldFields graphql.FieldDefinitionMap, t TransformerSet, ctx *Context) graphql.FieldsThunk {
	return func() graphql.Fields {
		names := sortedDefNames(oldFields)
		out := make(graphql.Fields, len(oldFields))
		for _, name := range names {
			oldField := oldFields[name]

			args := make(graphql.FieldConfigArgument, len(oldField.Args))
			for _, a := range oldField.Args {
				newType, err := ctx.MapType(a.Type)
				if err != nil {
					panic(fmt.Errorf("field %q.%q argument %q: %w", parentName, name, a.Name(), err))
				}
				input, ok := newType.(graphql.Input)
				if !ok {
					panic(fmt.Errorf("schematransform: argument %q of %q.%q did not map to an input type", a.Name(), parentName, name))
				}
				args[a.Name()] = &graphql.ArgumentConfig{
					Type:         input,
					DefaultValue: a.DefaultValue,
					Description:  a.Description(),
				}
			}

			newType, err := ctx.MapType(oldField.Type)
			if err != nil {
				panic(fmt.Errorf("field %q.%q: %w", parentName, name, err))
			}
			output, ok := newType.(graphql.Output)
			if !ok {
				panic(fmt.Errorf("schematransform: field %q.%q did not map to an output type", parentName, name))
			}

			cfg := &graphql.Field{
				Name:              name,
				Type:              output,
				Args:              args,
				Resolve:           oldField.Resolve,
				DeprecationReason: oldField.DeprecationReason,
				Description:       oldField.Description,
			}
			for _, fn := range t.Field {
				fn(parentName, name, cfg, oldField, ctx)
			}
			out[name] = cfg
		}
		return out
	}
}

// BuildFieldMap builds a Fields map from a set of (name, *Field) pairs that
// may carry duplicate names -- the situation C3's root-object merge faces
// when more than one upstream contributes a field -- and reports the first
// collision found, rather than silently letting the later field win.
func BuildFieldMap(parentName string, fields []NamedField) (graphql.Fields, error) {
	out := make(graphql.Fields, len(fields))
	for _, nf := range fields {
		if _, exists := out[nf.Name]; exists {
			return nil, &DuplicateFieldError{Type: parentName, Field: nf.Name}
		}
		out[nf.Name] = nf.Field
	}
	return out, nil
}

// NamedField pairs a field name with its config, for BuildFieldMap.
type NamedField struct {
	Name  string
	Field *graphql.Field
}

func sortedFieldNames(m graphql.InputObjectFieldMap) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sortedDefNames(m graphql.FieldDefinitionMap) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
