package schematransform

import (
	"fmt"
	"testing"

	"github.com/graphql-go/graphql"
)

func resolveNoopDbg(p graphql.ResolveParams) (interface{}, error) { return nil, nil }

func TestDebugRepro(t *testing.T) {
	named := graphql.NewInterface(graphql.InterfaceConfig{
		Name: "Named",
		Fields: graphql.Fields{
			"name": &graphql.Field{Type: graphql.String},
		},
	})

	var person *graphql.Object
	person = graphql.NewObject(graphql.ObjectConfig{
		Name:       "Person",
		Interfaces: []*graphql.Interface{named},
		Fields: graphql.FieldsThunk(func() graphql.Fields {
			return graphql.Fields{
				"name":     &graphql.Field{Type: graphql.String, Resolve: resolveNoopDbg},
				"friend":   &graphql.Field{Type: person, Resolve: resolveNoopDbg},
				"nickname": &graphql.Field{Type: graphql.String, Resolve: resolveNoopDbg},
			}
		}),
	})

	query := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"me": &graphql.Field{Type: person, Resolve: resolveNoopDbg},
		},
	})

	schema, err := graphql.NewSchema(graphql.SchemaConfig{Query: query, Types: []graphql.Type{person, named}})
	if err != nil {
		t.Fatal(err)
	}

	fmt.Printf("old __Directive ptr: %p  == SchemaType's: %v\n", schema.TypeMap()["__Directive"], schema.TypeMap()["__Directive"] == graphql.DirectiveType)

	_, err = Transform(&schema, TransformerSet{})
	fmt.Println("transform err:", err)
}
