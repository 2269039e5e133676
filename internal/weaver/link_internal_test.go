package weaver

import (
	"context"
	"testing"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/printer"
	"github.com/kylelemons/godebug/pretty"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCall struct {
	query string
	vars  map[string]interface{}
}

type stubClient struct {
	calls  []stubCall
	result *ExecutionResult
}

func (c *stubClient) Execute(ctx context.Context, doc *ast.Document, vars map[string]interface{}) (*ExecutionResult, error) {
	c.calls = append(c.calls, stubCall{query: printer.Print(doc).(string), vars: vars})
	if c.result != nil {
		return c.result, nil
	}
	return &ExecutionResult{}, nil
}

// TestDispatchBatchedLink_KeyFieldMode: keys DE, FR, DE go out as one
// call; the upstream answers in its own order (FR, DE); outputs come back
// remapped per parent.
func TestDispatchBatchedLink_KeyFieldMode(t *testing.T) {
	country := graphql.NewObject(graphql.ObjectConfig{
		Name: "B_Country",
		Fields: graphql.Fields{
			"code": &graphql.Field{Type: graphql.String},
			"name": &graphql.Field{Type: graphql.String},
		},
	})
	queryRoot := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"B_countryByCode": &graphql.Field{
				Type: graphql.NewList(country),
				Args: graphql.FieldConfigArgument{
					"code": &graphql.ArgumentConfig{Type: graphql.String},
				},
			},
		},
	})

	client := &stubClient{result: &ExecutionResult{Data: map[string]interface{}{
		"countryByCode": []interface{}{
			map[string]interface{}{"code": "FR", "name": "France"},
			map[string]interface{}{"code": "DE", "name": "Germany"},
		},
	}}}
	ep := &Endpoint{Name: "B", Namespace: "B", Client: client}

	linkSpec := LinkSpec{Field: "B_countryByCode", Argument: "code", BatchMode: true, KeyField: "code"}
	target, err := resolveLinkTarget(linkSpec, queryRoot, map[string]*Endpoint{"B_countryByCode": ep})
	require.NoError(t, err)

	got, err := dispatchBatchedLink(context.Background(), linkSpec, target, []linkInvocation{
		{key: "DE"}, {key: "FR"}, {key: "DE"},
	})
	require.NoError(t, err)

	want := []interface{}{
		map[string]interface{}{"code": "DE", "name": "Germany"},
		map[string]interface{}{"code": "FR", "name": "France"},
		map[string]interface{}{"code": "DE", "name": "Germany"},
	}
	if diff := pretty.Compare(want, got); diff != "" {
		t.Errorf("unexpected remap (-want +got):\n%s", diff)
	}

	require.Len(t, client.calls, 1, "the whole key set must go out in a single upstream call")
	call := client.calls[0]
	assert.Contains(t, call.query, "countryByCode")
	assert.NotContains(t, call.query, "B_countryByCode")
	assert.Equal(t, []interface{}{"DE", "FR", "DE"}, call.vars["linkKeys"])
}

// TestDispatchBatchedLink_WholeBatchError: a sub-query error covering the
// whole result raises immediately rather than remapping.
func TestDispatchBatchedLink_WholeBatchError(t *testing.T) {
	queryRoot := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"B_countryByCode": &graphql.Field{
				Type: graphql.NewList(graphql.String),
				Args: graphql.FieldConfigArgument{
					"code": &graphql.ArgumentConfig{Type: graphql.String},
				},
			},
		},
	})
	client := &stubClient{result: &ExecutionResult{
		Data:   map[string]interface{}{"countryByCode": nil},
		Errors: []UpstreamError{{Message: "backend down", Path: []interface{}{"countryByCode"}}},
	}}
	ep := &Endpoint{Name: "B", Namespace: "B", Client: client}

	linkSpec := LinkSpec{Field: "B_countryByCode", Argument: "code", BatchMode: true}
	target, err := resolveLinkTarget(linkSpec, queryRoot, map[string]*Endpoint{"B_countryByCode": ep})
	require.NoError(t, err)

	_, err = dispatchBatchedLink(context.Background(), linkSpec, target, []linkInvocation{{key: "DE"}})
	require.Error(t, err)
	var subErr *SubqueryError
	require.ErrorAs(t, err, &subErr)
	assert.Equal(t, "backend down", subErr.Errors[0].Message)
}

// TestRemapByKeyField: for input keys k1..kn, output is
// [map.get(k1), ..., map.get(kn)] where map = {o[keyFieldAlias] -> o};
// absent keys yield nil; no upstream ordering is assumed.
func TestRemapByKeyField(t *testing.T) {
	raw := []interface{}{
		map[string]interface{}{"code": "FR", "name": "France"},
		map[string]interface{}{"code": "DE", "name": "Germany"},
	}
	keys := []interface{}{"DE", "FR", "DE"}

	got := remapByKeyField(raw, "code", keys)

	a := assert.New(t)
	a.Len(got, 3)
	a.Equal(map[string]interface{}{"code": "DE", "name": "Germany"}, got[0])
	a.Equal(map[string]interface{}{"code": "FR", "name": "France"}, got[1])
	a.Equal(map[string]interface{}{"code": "DE", "name": "Germany"}, got[2])
}

func TestRemapByKeyField_absentKeyYieldsNil(t *testing.T) {
	raw := []interface{}{map[string]interface{}{"code": "DE"}}
	got := remapByKeyField(raw, "code", []interface{}{"DE", "FR"})

	a := assert.New(t)
	a.Len(got, 2)
	a.NotNil(got[0])
	a.Nil(got[1])
}

func TestRemapByPosition_orderPreserving(t *testing.T) {
	raw := []interface{}{"a", "b", "c"}
	got := remapByPosition(raw, 3)
	assert.Equal(t, []interface{}{"a", "b", "c"}, got)
}

func TestRemapByPosition_shortUpstreamResultPadsNil(t *testing.T) {
	raw := []interface{}{"a"}
	got := remapByPosition(raw, 3)
	assert.Equal(t, []interface{}{"a", nil, nil}, got)
}

func TestSplitPath(t *testing.T) {
	assert.Equal(t, []string{"code"}, splitPath("code"))
	assert.Equal(t, []string{"filter", "code"}, splitPath("filter.code"))
	assert.Nil(t, splitPath(""))
}

func TestSplitOnce(t *testing.T) {
	parent, field := splitOnce("Person.countryCode", '.')
	assert.Equal(t, "Person", parent)
	assert.Equal(t, "countryCode", field)

	parent, field = splitOnce("NoDot", '.')
	assert.Equal(t, "NoDot", parent)
	assert.Equal(t, "", field)
}

func TestScalarNamesMatch(t *testing.T) {
	assert.True(t, scalarNamesMatch(stringType{}, stringType{}))
}

// stringType is a minimal graphql.Type stand-in exposing only Name(), enough
// to exercise scalarNamesMatch/unwrapTypeName's non-wrapper branch.
type stringType struct{}

func (stringType) Name() string        { return "String" }
func (stringType) Description() string { return "" }
func (stringType) String() string      { return "String" }
func (stringType) Error() error        { return nil }
