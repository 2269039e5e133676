package weaver_test

import (
	"context"
	"strings"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/printer"
	"github.com/kylelemons/godebug/pretty"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samsarahq/weaver/batch"
	"github.com/samsarahq/weaver/internal/weaver"
)

// fakeClient is a weaver.GraphQLClient that hands back a canned result and
// records every document dispatched to it, so tests can assert both on the
// upstream-facing query text and on which endpoint(s) were actually called.
type fakeClient struct {
	calls   []string // printed source text of every dispatched document
	results []*weaver.ExecutionResult
	next    int
}

func (c *fakeClient) Execute(ctx context.Context, doc *ast.Document, vars map[string]interface{}) (*weaver.ExecutionResult, error) {
	c.calls = append(c.calls, printer.Print(doc).(string))
	if c.next >= len(c.results) {
		return &weaver.ExecutionResult{}, nil
	}
	r := c.results[c.next]
	c.next++
	return r, nil
}

func helloSchema(t *testing.T, greeting string) *graphql.Schema {
	t.Helper()
	query := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"hello": &graphql.Field{
				Type: graphql.String,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return greeting, nil
				},
			},
		},
	})
	schema, err := graphql.NewSchema(graphql.SchemaConfig{Query: query})
	require.NoError(t, err)
	return &schema
}

func doQuery(t *testing.T, schema *graphql.Schema, query string) *graphql.Result {
	t.Helper()
	ctx := batch.WithBatching(context.Background())
	return graphql.Do(graphql.Params{Schema: *schema, RequestString: query, Context: ctx})
}

// TestWeave_MergesAndRoutesRootFields: two upstreams A and B, each
// exposing Query.hello, merge into a single Query with A_hello and B_hello,
// and querying one issues a sub-query to only its own endpoint.
func TestWeave_MergesAndRoutesRootFields(t *testing.T) {
	aClient := &fakeClient{results: []*weaver.ExecutionResult{{Data: map[string]interface{}{"hello": "hi from A"}}}}
	bClient := &fakeClient{results: []*weaver.ExecutionResult{{Data: map[string]interface{}{"hello": "hi from B"}}}}

	endpoints := []*weaver.Endpoint{
		{Name: "A", Namespace: "A", Client: aClient},
		{Name: "B", Namespace: "B", Client: bClient},
	}
	upstream := map[string]*graphql.Schema{
		"A": helloSchema(t, "hi from A"),
		"B": helloSchema(t, "hi from B"),
	}

	merged, weavingErrors := weaver.Weave(endpoints, upstream)
	require.Empty(t, weavingErrors)
	require.NotNil(t, merged)

	fields := merged.QueryType().Fields()
	assert.Contains(t, fields, "A_hello")
	assert.Contains(t, fields, "B_hello")

	result := doQuery(t, merged, `{ A_hello }`)
	require.Empty(t, result.Errors)

	data, ok := result.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "hi from A", data["A_hello"])

	require.Len(t, aClient.calls, 1)
	assert.Empty(t, bClient.calls, "querying A_hello must not dispatch anything to B")
	assert.Contains(t, aClient.calls[0], "hello", "the sub-query sent to A must use the unprefixed field name")
	assert.NotContains(t, aClient.calls[0], "A_hello", "the prefix must be stripped before dispatch")
}

// TestWeave_ErrorPathRewriting: an upstream field error is reported against
// the merged response's own field position.
func TestWeave_ErrorPathRewriting(t *testing.T) {
	aClient := &fakeClient{results: []*weaver.ExecutionResult{{
		Data: map[string]interface{}{"hello": nil},
		Errors: []weaver.UpstreamError{
			{Message: "boom", Path: []interface{}{"hello"}},
		},
	}}}

	endpoints := []*weaver.Endpoint{{Name: "A", Namespace: "A", Client: aClient}}
	upstream := map[string]*graphql.Schema{"A": helloSchema(t, "hi")}

	merged, weavingErrors := weaver.Weave(endpoints, upstream)
	require.Empty(t, weavingErrors)

	result := doQuery(t, merged, `{ A_hello }`)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "boom", result.Errors[0].Message)
	require.Len(t, result.Errors[0].Path, 1)
	assert.Equal(t, "A_hello", result.Errors[0].Path[0])
}

// TestWeave_ReservedAliasRejectedBeforeDispatch: aliasing a field to
// "__typename" inside a selection set must raise *ReservedFieldAlias
// before any upstream call is made.
func TestWeave_ReservedAliasRejectedBeforeDispatch(t *testing.T) {
	personClient := &fakeClient{}

	query := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"person": &graphql.Field{
				Type: graphql.NewObject(graphql.ObjectConfig{
					Name: "Person",
					Fields: graphql.Fields{
						"name": &graphql.Field{Type: graphql.String},
					},
				}),
			},
		},
	})
	schema, err := graphql.NewSchema(graphql.SchemaConfig{Query: query})
	require.NoError(t, err)

	endpoints := []*weaver.Endpoint{{Name: "A", Namespace: "A", Client: personClient}}
	merged, weavingErrors := weaver.Weave(endpoints, map[string]*graphql.Schema{"A": &schema})
	require.Empty(t, weavingErrors)

	result := doQuery(t, merged, `{ A_person { __typename: name } }`)
	require.NotEmpty(t, result.Errors)
	assert.True(t, strings.Contains(result.Errors[0].Message, "reserved") || strings.Contains(result.Errors[0].Message, "__typename"))
	assert.Empty(t, personClient.calls, "a reserved-alias violation must be caught before any network dispatch")
}

func personSchema(t *testing.T) *graphql.Schema {
	t.Helper()
	person := graphql.NewObject(graphql.ObjectConfig{
		Name: "Person",
		Fields: graphql.Fields{
			"countryCode": &graphql.Field{Type: graphql.String},
		},
	})
	query := graphql.NewObject(graphql.ObjectConfig{
		Name:   "Query",
		Fields: graphql.Fields{"person": &graphql.Field{Type: person}},
	})
	schema, err := graphql.NewSchema(graphql.SchemaConfig{Query: query})
	require.NoError(t, err)
	return &schema
}

func countrySchema(t *testing.T) *graphql.Schema {
	t.Helper()
	country := graphql.NewObject(graphql.ObjectConfig{
		Name: "Country",
		Fields: graphql.Fields{
			"code": &graphql.Field{Type: graphql.String},
			"name": &graphql.Field{Type: graphql.String},
		},
	})
	query := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"countryByCode": &graphql.Field{
				Type: country,
				Args: graphql.FieldConfigArgument{
					"code": &graphql.ArgumentConfig{Type: graphql.String},
				},
			},
		},
	})
	schema, err := graphql.NewSchema(graphql.SchemaConfig{Query: query})
	require.NoError(t, err)
	return &schema
}

// TestWeave_SingleObjectLink: a link from A's Person.countryCode into B's
// countryByCode(code:) yields A's own sub-query first, then B's keyed
// sub-query, with the joined object spliced in at the link field.
func TestWeave_SingleObjectLink(t *testing.T) {
	aClient := &fakeClient{results: []*weaver.ExecutionResult{{
		Data: map[string]interface{}{"person": map[string]interface{}{"countryCode": "DE"}},
	}}}
	bClient := &fakeClient{results: []*weaver.ExecutionResult{{
		Data: map[string]interface{}{"countryByCode": map[string]interface{}{"name": "Germany"}},
	}}}

	endpoints := []*weaver.Endpoint{
		{Name: "A", Namespace: "A", Client: aClient, Links: map[string]weaver.LinkSpec{
			"Person.countryCode": {Field: "B_countryByCode", Argument: "code"},
		}},
		{Name: "B", Namespace: "B", Client: bClient},
	}
	upstream := map[string]*graphql.Schema{
		"A": personSchema(t),
		"B": countrySchema(t),
	}

	merged, weavingErrors := weaver.Weave(endpoints, upstream)
	require.Empty(t, weavingErrors)

	result := doQuery(t, merged, `{ A_person { countryCode countryCode_link { name } } }`)
	require.Empty(t, result.Errors)

	want := map[string]interface{}{
		"A_person": map[string]interface{}{
			"countryCode":      "DE",
			"countryCode_link": map[string]interface{}{"name": "Germany"},
		},
	}
	if diff := pretty.Compare(want, result.Data); diff != "" {
		t.Errorf("unexpected response (-want +got):\n%s", diff)
	}

	require.Len(t, aClient.calls, 1, spew.Sdump(aClient.calls))
	assert.NotContains(t, aClient.calls[0], "countryCode_link", "the synthetic link field must not reach upstream A")
	require.Len(t, bClient.calls, 1, spew.Sdump(bClient.calls))
	assert.Contains(t, bClient.calls[0], "countryByCode")
	assert.NotContains(t, bClient.calls[0], "B_countryByCode", "the target root field must be dispatched under its upstream name")
}

// TestWeave_LinkOnlySelectionStillFetchesKey covers the pruning edge: a
// client that selects only the link field never names the key field, so
// the upstream sub-query must add it.
func TestWeave_LinkOnlySelectionStillFetchesKey(t *testing.T) {
	aClient := &fakeClient{results: []*weaver.ExecutionResult{{
		Data: map[string]interface{}{"person": map[string]interface{}{"countryCode": "DE"}},
	}}}
	bClient := &fakeClient{results: []*weaver.ExecutionResult{{
		Data: map[string]interface{}{"countryByCode": map[string]interface{}{"name": "Germany"}},
	}}}

	endpoints := []*weaver.Endpoint{
		{Name: "A", Namespace: "A", Client: aClient, Links: map[string]weaver.LinkSpec{
			"Person.countryCode": {Field: "B_countryByCode", Argument: "code"},
		}},
		{Name: "B", Namespace: "B", Client: bClient},
	}
	merged, weavingErrors := weaver.Weave(endpoints, map[string]*graphql.Schema{
		"A": personSchema(t),
		"B": countrySchema(t),
	})
	require.Empty(t, weavingErrors)

	result := doQuery(t, merged, `{ A_person { countryCode_link { name } } }`)
	require.Empty(t, result.Errors)

	require.Len(t, aClient.calls, 1)
	assert.Contains(t, aClient.calls[0], "countryCode", "the join key must be fetched even when the client only asked for the link")
	assert.NotContains(t, aClient.calls[0], "countryCode_link")

	data := result.Data.(map[string]interface{})
	person := data["A_person"].(map[string]interface{})
	assert.Equal(t, map[string]interface{}{"name": "Germany"}, person["countryCode_link"])
}

func animalSchema(t *testing.T) *graphql.Schema {
	t.Helper()
	animal := graphql.NewInterface(graphql.InterfaceConfig{
		Name:   "Animal",
		Fields: graphql.Fields{"name": &graphql.Field{Type: graphql.String}},
	})
	dog := graphql.NewObject(graphql.ObjectConfig{
		Name:       "Dog",
		Interfaces: []*graphql.Interface{animal},
		Fields: graphql.Fields{
			"name":  &graphql.Field{Type: graphql.String},
			"barks": &graphql.Field{Type: graphql.Boolean},
		},
	})
	query := graphql.NewObject(graphql.ObjectConfig{
		Name:   "Query",
		Fields: graphql.Fields{"animal": &graphql.Field{Type: animal}},
	})
	schema, err := graphql.NewSchema(graphql.SchemaConfig{Query: query, Types: []graphql.Type{dog}})
	require.NoError(t, err)
	return &schema
}

// TestWeave_FragmentTypeCondition: fragment type conditions are
// reverse-renamed before dispatch and the containing selection set gains
// an unaliased __typename.
func TestWeave_FragmentTypeCondition(t *testing.T) {
	aClient := &fakeClient{results: []*weaver.ExecutionResult{{
		Data: map[string]interface{}{"animal": map[string]interface{}{
			"__typename": "Dog", "name": "Rex", "barks": true,
		}},
	}}}

	endpoints := []*weaver.Endpoint{{Name: "A", Namespace: "A", Client: aClient}}
	merged, weavingErrors := weaver.Weave(endpoints, map[string]*graphql.Schema{"A": animalSchema(t)})
	require.Empty(t, weavingErrors)

	result := doQuery(t, merged, `
		query { A_animal { ...F ... on A_Dog { barks } } }
		fragment F on A_Animal { name }
	`)
	require.Empty(t, result.Errors)

	data := result.Data.(map[string]interface{})
	assert.Equal(t, map[string]interface{}{"name": "Rex", "barks": true}, data["A_animal"])

	require.Len(t, aClient.calls, 1)
	call := aClient.calls[0]
	assert.Contains(t, call, "fragment F on Animal")
	assert.Contains(t, call, "... on Dog")
	assert.Contains(t, call, "__typename")
	assert.NotContains(t, call, "A_Dog")
	assert.NotContains(t, call, "A_Animal")
}

// TestWeave_NamespaceCollision: two endpoints producing the same prefixed
// root field name is a fatal weaving error, not a silent overwrite.
func TestWeave_NamespaceCollision(t *testing.T) {
	endpoints := []*weaver.Endpoint{
		{Name: "A", Namespace: "", Client: &fakeClient{}},
		{Name: "B", Namespace: "", Client: &fakeClient{}},
	}
	upstream := map[string]*graphql.Schema{
		"A": helloSchema(t, "a"),
		"B": helloSchema(t, "b"),
	}

	merged, weavingErrors := weaver.Weave(endpoints, upstream)
	assert.Nil(t, merged)
	require.Len(t, weavingErrors, 1)
	var collision *weaver.NamespaceCollision
	require.ErrorAs(t, weavingErrors[0], &collision)
	assert.Equal(t, "hello", collision.TypeName)
}
