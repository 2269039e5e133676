package weaver

import (
	"github.com/graphql-go/graphql"

	"github.com/samsarahq/weaver/internal/schematransform"
)

// rootOwners records, per merged root operation type, which endpoint
// contributed each (already-prefixed) field name. Weave's
// proxyInstallerTransformerSet uses it to wire C4's proxy resolver without re-deriving the owning endpoint from
// the type name at request time.
type rootOwners struct {
	query        map[string]*Endpoint
	mutation     map[string]*Endpoint
	subscription map[string]*Endpoint
}

// rootDelegate is the source value a not-yet-installed root field resolver
// returns. Weave's proxyInstallerTransformerSet always replaces Resolve for
// every root field in the same weaving run, ahead of serving any request, so nothing should
// ever actually observe this value; its presence is an assertion that the
// install step ran.
type rootDelegate struct {
	endpoint *Endpoint
	field    string
}

// MergeSchemas combines the already namespace-renamed schemas of endpoints
// (keyed by Endpoint.Name) into one schema: a synthesized
// Query/Mutation/Subscription whose fields are the union of the upstreams'
// own root fields, each renamed with its endpoint's prefix (so two
// upstreams both exposing "hello" become "A_hello" and "B_hello"), and the
// union of every other cloned named type. A root operation absent from
// every endpoint is omitted from the merged schema. Two endpoints producing
// the same prefixed type name is a *NamespaceCollision.
func MergeSchemas(endpoints []*Endpoint, renamed map[string]*graphql.Schema) (*graphql.Schema, *rootOwners, error) {
	owners := &rootOwners{
		query:        map[string]*Endpoint{},
		mutation:     map[string]*Endpoint{},
		subscription: map[string]*Endpoint{},
	}

	typeOwner := map[string]string{} // prefixed type name -> endpoint name
	allTypes := map[string]graphql.Type{}

	for _, ep := range endpoints {
		schema, ok := renamed[ep.Name]
		if !ok {
			continue
		}
		// An upstream's own root operation types are replaced by the
		// synthesized roots below; their fields are re-homed there, so the
		// types themselves are not carried into the union.
		roots := rootTypeNames(schema)
		for name, t := range schema.TypeMap() {
			if schematransform.IsNativeType(t) {
				allTypes[name] = t
				continue
			}
			if roots[name] {
				continue
			}
			if existingEp, exists := typeOwner[name]; exists && existingEp != ep.Name {
				return nil, nil, &NamespaceCollision{TypeName: name, Endpoints: []string{existingEp, ep.Name}}
			}
			typeOwner[name] = ep.Name
			allTypes[name] = t
		}
	}

	query, err := mergeRootType(endpoints, renamed, "Query", owners.query)
	if err != nil {
		return nil, nil, err
	}
	mutation, err := mergeRootType(endpoints, renamed, "Mutation", owners.mutation)
	if err != nil {
		return nil, nil, err
	}
	subscription, err := mergeRootType(endpoints, renamed, "Subscription", owners.subscription)
	if err != nil {
		return nil, nil, err
	}
	if query == nil {
		query = graphql.NewObject(graphql.ObjectConfig{
			Name:   "Query",
			Fields: graphql.Fields{},
		})
	}

	cfg := graphql.SchemaConfig{Query: query, Mutation: mutation, Subscription: subscription}
	for _, t := range allTypes {
		cfg.Types = append(cfg.Types, t)
	}

	merged, err := graphql.NewSchema(cfg)
	if err != nil {
		return nil, nil, err
	}
	return &merged, owners, nil
}

func rootTypeNames(schema *graphql.Schema) map[string]bool {
	out := map[string]bool{}
	if q := schema.QueryType(); q != nil {
		out[q.Name()] = true
	}
	if m := schema.MutationType(); m != nil {
		out[m.Name()] = true
	}
	if s := schema.SubscriptionType(); s != nil {
		out[s.Name()] = true
	}
	return out
}

func mergeRootType(endpoints []*Endpoint, renamed map[string]*graphql.Schema, kind string, owners map[string]*Endpoint) (*graphql.Object, error) {
	fields := graphql.Fields{}

	for _, ep := range endpoints {
		schema, ok := renamed[ep.Name]
		if !ok {
			continue
		}
		var root *graphql.Object
		switch kind {
		case "Query":
			root = schema.QueryType()
		case "Mutation":
			root = schema.MutationType()
		case "Subscription":
			root = schema.SubscriptionType()
		}
		if root == nil {
			continue
		}

		for name, def := range root.Fields() {
			prefixed := Prefix(ep.Namespace, name)
			if existing, exists := owners[prefixed]; exists {
				return nil, &NamespaceCollision{TypeName: prefixed, Endpoints: []string{existing.Name, ep.Name}}
			}
			fields[prefixed] = &graphql.Field{
				Name:              prefixed,
				Type:              def.Type,
				Args:              argsToFieldConfigArgument(def.Args),
				DeprecationReason: def.DeprecationReason,
				Description:       def.Description,
				Resolve:           rootPlaceholderResolve(ep, prefixed),
			}
			owners[prefixed] = ep
		}
	}

	if len(fields) == 0 {
		return nil, nil
	}
	obj := graphql.NewObject(graphql.ObjectConfig{Name: kind, Fields: fields})
	if err := obj.Error(); err != nil {
		return nil, err
	}
	return obj, nil
}

func rootPlaceholderResolve(ep *Endpoint, field string) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (interface{}, error) {
		return rootDelegate{endpoint: ep, field: field}, nil
	}
}

func argsToFieldConfigArgument(args []*graphql.Argument) graphql.FieldConfigArgument {
	out := make(graphql.FieldConfigArgument, len(args))
	for _, a := range args {
		out[a.Name()] = &graphql.ArgumentConfig{
			Type:         a.Type,
			DefaultValue: a.DefaultValue,
			Description:  a.Description(),
		}
	}
	return out
}
