package weaver

import (
	"strings"

	"github.com/graphql-go/graphql"

	"github.com/samsarahq/weaver/internal/schematransform"
)

// namespaceSeparator joins a namespace to the type name it prefixes.
const namespaceSeparator = "_"

// Prefix returns the merged-schema type name for a type named name that
// belongs to namespace ns. The empty namespace -- permitted for one
// pass-through endpoint -- leaves name unprefixed.
func Prefix(ns, name string) string {
	if ns == "" {
		return name
	}
	return ns + namespaceSeparator + name
}

// Unprefix is the inverse of Prefix: it strips ns's prefix from name,
// recovering the upstream's original type name. Used by the proxy resolver
// to reverse-rename fragment type conditions before dispatch.
func Unprefix(ns, name string) string {
	if ns == "" {
		return name
	}
	prefix := ns + namespaceSeparator
	if strings.HasPrefix(name, prefix) {
		return strings.TrimPrefix(name, prefix)
	}
	return name
}

// typenameResolveType resolves an abstract type against the __typename the
// proxy resolver forces into every upstream sub-query touching fragments:
// the upstream's own type name, prefixed back into ns, looked up in the
// woven schema. An introspected schema carries no ResolveType of its own,
// and the source values flowing through the merged executor are decoded
// JSON maps, so __typename is the only discriminator available.
func typenameResolveType(ns string) graphql.ResolveTypeFn {
	return func(p graphql.ResolveTypeParams) *graphql.Object {
		source, ok := p.Value.(map[string]interface{})
		if !ok {
			return nil
		}
		name, _ := source["__typename"].(string)
		if name == "" {
			return nil
		}
		obj, _ := p.Info.Schema.TypeMap()[Prefix(ns, name)].(*graphql.Object)
		return obj
	}
}

// NamespaceTransformer returns the schematransform.TransformerSet that
// prefixes every cloned named type with ns, leaving field bodies and
// directives otherwise untouched. It is run once per endpoint, ahead of
// MergeSchemas.
func NamespaceTransformer(ns string) schematransform.TransformerSet {
	return schematransform.TransformerSet{
		Scalar: []func(*graphql.ScalarConfig, *graphql.Scalar, *schematransform.Context){
			func(cfg *graphql.ScalarConfig, old *graphql.Scalar, ctx *schematransform.Context) {
				cfg.Name = Prefix(ns, old.Name())
			},
		},
		Enum: []func(*graphql.EnumConfig, *graphql.Enum, *schematransform.Context){
			func(cfg *graphql.EnumConfig, old *graphql.Enum, ctx *schematransform.Context) {
				cfg.Name = Prefix(ns, old.Name())
			},
		},
		Interface: []func(*graphql.InterfaceConfig, *graphql.Interface, *schematransform.Context){
			func(cfg *graphql.InterfaceConfig, old *graphql.Interface, ctx *schematransform.Context) {
				cfg.Name = Prefix(ns, old.Name())
				if cfg.ResolveType == nil {
					cfg.ResolveType = typenameResolveType(ns)
				}
			},
		},
		Union: []func(*graphql.UnionConfig, *graphql.Union, *schematransform.Context){
			func(cfg *graphql.UnionConfig, old *graphql.Union, ctx *schematransform.Context) {
				cfg.Name = Prefix(ns, old.Name())
				if cfg.ResolveType == nil {
					cfg.ResolveType = typenameResolveType(ns)
				}
			},
		},
		InputObject: []func(*graphql.InputObjectConfig, *graphql.InputObject, *schematransform.Context){
			func(cfg *graphql.InputObjectConfig, old *graphql.InputObject, ctx *schematransform.Context) {
				cfg.Name = Prefix(ns, old.Name())
			},
		},
		Object: []func(*graphql.ObjectConfig, *graphql.Object, *schematransform.Context){
			func(cfg *graphql.ObjectConfig, old *graphql.Object, ctx *schematransform.Context) {
				cfg.Name = Prefix(ns, old.Name())
			},
		},
	}
}
