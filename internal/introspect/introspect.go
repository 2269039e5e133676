// Package introspect fetches an upstream's schema over GraphQL introspection
// and rebuilds it as a *graphql.Schema, ahead of the renaming and merging
// passes.
package introspect

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/graphql-go/graphql"
	"github.com/samsarahq/go/oops"

	"github.com/samsarahq/weaver/internal/weaver"
)

const introspectionQuery = `
query IntrospectionQuery {
  __schema {
    queryType { name }
    mutationType { name }
    subscriptionType { name }
    types {
      kind
      name
      description
      fields(includeDeprecated: true) {
        name
        description
        isDeprecated
        deprecationReason
        args { name description type { ...TypeRef } defaultValue }
        type { ...TypeRef }
      }
      inputFields {
        name
        description
        type { ...TypeRef }
        defaultValue
      }
      interfaces { name }
      enumValues(includeDeprecated: true) {
        name
        description
        isDeprecated
        deprecationReason
      }
      possibleTypes { name }
    }
  }
}

fragment TypeRef on __Type {
  kind
  name
  ofType {
    kind
    name
    ofType {
      kind
      name
      ofType {
        kind
        name
        ofType {
          kind
          name
          ofType {
            kind
            name
          }
        }
      }
    }
  }
}
`

type introspectionEnvelope struct {
	Data   *introspectionData      `json:"data"`
	Errors []introspectionErrorMsg `json:"errors"`
}

type introspectionErrorMsg struct {
	Message string `json:"message"`
}

type introspectionData struct {
	Schema rawSchema `json:"__schema"`
}

type rawSchema struct {
	QueryType        *namedRef `json:"queryType"`
	MutationType     *namedRef `json:"mutationType"`
	SubscriptionType *namedRef `json:"subscriptionType"`
	Types            []rawType `json:"types"`
}

type namedRef struct {
	Name string `json:"name"`
}

type rawType struct {
	Kind          string       `json:"kind"`
	Name          string       `json:"name"`
	Description   string       `json:"description"`
	Fields        []rawField   `json:"fields"`
	InputFields   []rawInput   `json:"inputFields"`
	Interfaces    []namedRef   `json:"interfaces"`
	EnumValues    []rawEnumVal `json:"enumValues"`
	PossibleTypes []namedRef   `json:"possibleTypes"`
}

type rawField struct {
	Name              string    `json:"name"`
	Description       string    `json:"description"`
	IsDeprecated      bool      `json:"isDeprecated"`
	DeprecationReason string    `json:"deprecationReason"`
	Args              []rawArg  `json:"args"`
	Type              rawTypRef `json:"type"`
}

type rawArg struct {
	Name         string      `json:"name"`
	Description  string      `json:"description"`
	Type         rawTypRef   `json:"type"`
	DefaultValue interface{} `json:"defaultValue"`
}

type rawInput struct {
	Name         string      `json:"name"`
	Description  string      `json:"description"`
	Type         rawTypRef   `json:"type"`
	DefaultValue interface{} `json:"defaultValue"`
}

type rawEnumVal struct {
	Name              string `json:"name"`
	Description       string `json:"description"`
	IsDeprecated      bool   `json:"isDeprecated"`
	DeprecationReason string `json:"deprecationReason"`
}

type rawTypRef struct {
	Kind   string     `json:"kind"`
	Name   string     `json:"name"`
	OfType *rawTypRef `json:"ofType"`
}

// Fetch performs the introspection POST against url and decodes its result.
// It does not build a schema -- see Build.
func Fetch(ctx context.Context, httpClient *http.Client, endpointName, url string) (*rawSchema, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	body, err := json.Marshal(map[string]interface{}{"query": introspectionQuery})
	if err != nil {
		return nil, &weaver.IntrospectionFailure{Endpoint: endpointName, Cause: oops.Wrapf(err, "marshaling introspection request")}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &weaver.IntrospectionFailure{Endpoint: endpointName, Cause: oops.Wrapf(err, "building introspection request")}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/plain, */*")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, &weaver.IntrospectionFailure{Endpoint: endpointName, Cause: oops.Wrapf(err, "dispatching introspection request")}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &weaver.IntrospectionFailure{Endpoint: endpointName, Cause: oops.Wrapf(err, "reading introspection response")}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &weaver.IntrospectionFailure{Endpoint: endpointName, Cause: oops.Errorf("HTTP %d: %s", resp.StatusCode, respBody)}
	}

	var envelope introspectionEnvelope
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return nil, &weaver.IntrospectionFailure{Endpoint: endpointName, Cause: oops.Wrapf(err, "decoding introspection response")}
	}
	if len(envelope.Errors) > 0 {
		return nil, &weaver.IntrospectionFailure{Endpoint: endpointName, Cause: oops.Errorf("introspection query returned errors: %s", envelope.Errors[0].Message)}
	}
	if envelope.Data == nil {
		return nil, &weaver.IntrospectionFailure{Endpoint: endpointName, Cause: oops.Errorf("introspection query returned no data")}
	}
	return &envelope.Data.Schema, nil
}

// Schema fetches and builds endpointName's schema in one call, the shape
// cmd/weaver's boot sequence uses for each configured endpoint.
func Schema(ctx context.Context, httpClient *http.Client, endpointName, url string) (*graphql.Schema, error) {
	raw, err := Fetch(ctx, httpClient, endpointName, url)
	if err != nil {
		return nil, err
	}
	return Build(endpointName, raw)
}
