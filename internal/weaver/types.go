// Package weaver implements the schema-weaving proxy: it merges N upstream
// GraphQL schemas under one root, reconstructs and dispatches upstream
// sub-queries on every root field, and resolves declared links (foreign-key
// joins) across endpoints.
package weaver

import (
	"context"

	"github.com/graphql-go/graphql/language/ast"
)

// Endpoint describes one upstream GraphQL server. It is constructed at boot
// and never mutated afterward; every resolver installed during weaving
// closes over an Endpoint by value (or by shared, read-only pointer), never
// by reading process-wide state.
type Endpoint struct {
	// Name identifies the endpoint. The configuration loader uses it as
	// Namespace when none is configured.
	Name string
	// URL is the endpoint's GraphQL-over-HTTP address.
	URL string
	// Namespace prefixes every non-native type name cloned from this
	// endpoint's schema. The empty string is permitted for one
	// pass-through endpoint whose types are merged unprefixed.
	Namespace string
	// Links maps "ParentType.field" to the link installed on that field.
	Links map[string]LinkSpec
	// Client dispatches sub-queries against this endpoint. Supplied at
	// boot (see internal/config and cmd/weaver), never read from a
	// global.
	Client GraphQLClient
}

// LinkSpec declares that a scalar field on one endpoint holds a foreign key
// resolvable against a field on another endpoint.
type LinkSpec struct {
	// Field is a dot-path into the unlinked query root identifying the
	// target field. Its first segment is the merged, namespace-prefixed
	// root field name; later segments are nested field names, e.g.
	// "geo_countryByCode" or "geo_countries.byCode".
	Field string
	// Argument is a dot-path naming the argument the key is bound to and,
	// optionally, a nested filter field beneath it, e.g. "code" or
	// "filter.code".
	Argument string
	// BatchMode collects keys across a parent list resolution into one
	// sub-query instead of issuing one sub-query per parent object.
	BatchMode bool
	// KeyField is the field on the fetched object holding the linking
	// key, used to re-associate results with parents when the upstream
	// does not promise to preserve input order. Required when BatchMode
	// is set and order is not preserved.
	KeyField string
}

// ExecutionResult is the shape a GraphQLClient returns: GraphQL-over-HTTP's
// {data, errors}, with error paths relative to the sub-query root.
type ExecutionResult struct {
	Data   interface{}     `json:"data,omitempty"`
	Errors []UpstreamError `json:"errors,omitempty"`
}

// UpstreamError is one entry of an ExecutionResult's errors array.
type UpstreamError struct {
	Message   string          `json:"message"`
	Path      []interface{}   `json:"path,omitempty"`
	Locations []ErrorLocation `json:"locations,omitempty"`
}

// ErrorLocation is a GraphQL error's line/column per the
// GraphQL-over-HTTP spec.
type ErrorLocation struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// GraphQLClient dispatches one sub-query document against an endpoint and
// returns its result. Implementations own HTTP transport; context
// cancellation/deadlines must be honored.
type GraphQLClient interface {
	Execute(ctx context.Context, doc *ast.Document, variableValues map[string]interface{}) (*ExecutionResult, error)
}
