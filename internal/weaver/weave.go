package weaver

import (
	"github.com/graphql-go/graphql"

	"github.com/samsarahq/weaver/internal/schematransform"
	"github.com/samsarahq/weaver/internal/weaveast"
)

// Weave runs the full weaving pipeline: each endpoint's own schema is
// namespace-renamed, the renamed schemas are merged into one schema with
// unioned root fields, every merged root field is installed with the
// sub-query proxy resolver, and every configured link gains its sibling
// link field. The returned schema is ready to serve requests. Alongside a
// schema, the returned errors are link-level *WeavingErrors, which do not
// stop weaving. A fatal failure (a schema that cannot be renamed, a
// *NamespaceCollision, a failed transform pass) returns a nil schema with
// that error in the slice.
func Weave(endpoints []*Endpoint, upstreamSchemas map[string]*graphql.Schema) (*graphql.Schema, []error) {
	renamed := make(map[string]*graphql.Schema, len(endpoints))
	for _, ep := range endpoints {
		schema, ok := upstreamSchemas[ep.Name]
		if !ok {
			continue
		}
		withNamespace, err := schematransform.Transform(schema, NamespaceTransformer(ep.Namespace))
		if err != nil {
			return nil, []error{&SchemaBuildError{Endpoint: ep.Name, Cause: err}}
		}
		renamed[ep.Name] = withNamespace
	}

	merged, owners, err := MergeSchemas(endpoints, renamed)
	if err != nil {
		return nil, []error{err}
	}

	withProxies, err := schematransform.Transform(merged, proxyInstallerTransformerSet(owners))
	if err != nil {
		return nil, []error{err}
	}

	index := BuildLinkIndex(endpoints)
	final, weavingErrors := InstallLinks(withProxies, index, owners)
	if final == nil {
		return nil, weavingErrors
	}
	return final, weavingErrors
}

// proxyInstallerTransformerSet replaces Resolve on every merged root field
// (Query/Mutation/Subscription) with the sub-query proxy for the endpoint
// owners attributes the field to, overwriting the placeholder MergeSchemas
// installed.
func proxyInstallerTransformerSet(owners *rootOwners) schematransform.TransformerSet {
	install := func(parentName, fieldName string, cfg *graphql.Field, old *graphql.FieldDefinition, ctx *schematransform.Context) {
		var byField map[string]*Endpoint
		switch parentName {
		case "Query":
			byField = owners.query
		case "Mutation":
			byField = owners.mutation
		case "Subscription":
			byField = owners.subscription
		default:
			if cfg.Resolve == nil {
				cfg.Resolve = aliasAwareResolve
			}
			return
		}
		ep, ok := byField[fieldName]
		if !ok {
			return
		}
		cfg.Resolve = ProxyResolve(ep)
	}
	return schematransform.TransformerSet{
		Field: []func(string, string, *graphql.Field, *graphql.FieldDefinition, *schematransform.Context){install},
	}
}

// aliasAwareResolve resolves a field of an upstream response object. The
// sub-query the proxy resolver dispatched preserved the client's aliases,
// so the decoded JSON is keyed by each selection's output key, not its
// field name. An inline field error value is unwrapped back into a real
// error here, nulling this field while its siblings survive.
func aliasAwareResolve(p graphql.ResolveParams) (interface{}, error) {
	source, ok := p.Source.(map[string]interface{})
	if !ok {
		return graphql.DefaultResolveFn(p)
	}
	key := p.Info.FieldName
	if len(p.Info.FieldASTs) > 0 {
		key = weaveast.OutputKey(p.Info.FieldASTs[0])
	}
	value := source[key]
	if errValue, isErr := value.(error); isErr {
		return nil, errValue
	}
	return value, nil
}
