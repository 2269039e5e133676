package weaver

import (
	"fmt"

	"github.com/samsarahq/weaver/internal/weaveast"
)

// SafeError is implemented by request-fatal errors whose message is safe to
// return to the client verbatim. Nothing in this package filters on it:
// Handler returns every resolver error's message unchanged.
type SafeError interface {
	error
	SafeError() string
}

// ConfigError reports a boot-fatal problem in the configuration document:
// a duplicate endpoint name, a malformed URL, an invalid link path, or an
// unrecognized option.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string { return "config: " + e.Message }

// IntrospectionFailure reports a boot-fatal failure fetching or parsing an
// endpoint's introspection response: transport failure, non-2xx status,
// malformed JSON, or a GraphQL errors[] entry in the introspection result.
type IntrospectionFailure struct {
	Endpoint string
	Cause    error
}

func (e *IntrospectionFailure) Error() string {
	return fmt.Sprintf("introspecting endpoint %q: %v", e.Endpoint, e.Cause)
}

func (e *IntrospectionFailure) Unwrap() error { return e.Cause }

// SchemaBuildError reports a boot-fatal failure constructing a
// *graphql.Schema from an endpoint's introspection result.
type SchemaBuildError struct {
	Endpoint string
	Cause    error
}

func (e *SchemaBuildError) Error() string {
	return fmt.Sprintf("building schema for endpoint %q: %v", e.Endpoint, e.Cause)
}

func (e *SchemaBuildError) Unwrap() error { return e.Cause }

// NamespaceCollision reports a boot-fatal name clash: two endpoints
// produced the same prefixed type name or the same merged root field name
// (TypeName then holds the field name).
type NamespaceCollision struct {
	TypeName  string
	Endpoints []string
}

func (e *NamespaceCollision) Error() string {
	return fmt.Sprintf("namespace collision on type %q between endpoints %v", e.TypeName, e.Endpoints)
}

// WeavingError reports that an individual link could not be installed
// (missing target field) or was installed with a warning (incompatible
// scalar types: the link is still installed as a best-effort passthrough).
// It is recoverable: every other link and endpoint continues weaving.
type WeavingError struct {
	ParentType string
	Field      string
	Message    string
}

func (e *WeavingError) Error() string {
	return fmt.Sprintf("link %s.%s: %s", e.ParentType, e.Field, e.Message)
}

// ReservedFieldAlias reports that a client query aliased a non-__typename
// field to "__typename" anywhere in the selection it forwards upstream (the
// proxy resolver injects a real __typename into every selection set that
// carries a fragment). It is request-fatal and surfaced as a
// single GraphQL error on the originating field's response path, before any
// upstream network call is made.
type ReservedFieldAlias struct {
	FieldName string
}

func (e *ReservedFieldAlias) Error() string {
	return fmt.Sprintf("field %q is aliased to the reserved name \"__typename\"", e.FieldName)
}

func (e *ReservedFieldAlias) SafeError() string { return e.Error() }

// asReservedFieldAlias converts weaveast's reserved-alias check error (which
// knows nothing of the weaver's own error taxonomy) into the request-fatal,
// SafeError-satisfying ReservedFieldAlias. Returns nil for a nil err and
// passes through anything that isn't a reserved-alias violation unchanged.
func asReservedFieldAlias(err error) error {
	if err == nil {
		return nil
	}
	if reservedErr, ok := err.(*weaveast.ReservedAliasError); ok {
		return &ReservedFieldAlias{FieldName: reservedErr.FieldName}
	}
	return err
}

// UpstreamContractViolation reports that an upstream response was missing a
// key at the path the proxy resolver expected to descend through to find
// the resolved field's value.
type UpstreamContractViolation struct {
	Endpoint string
	Path     []string
}

func (e *UpstreamContractViolation) Error() string {
	return fmt.Sprintf("endpoint %q response missing expected key at path %v", e.Endpoint, e.Path)
}

func (e *UpstreamContractViolation) SafeError() string { return e.Error() }

// KeyFieldError reports that a link's join key, for one parent object, was
// itself an inline field-error value rather than a usable scalar.
type KeyFieldError struct {
	ParentType string
	Field      string
	Cause      error
}

func (e *KeyFieldError) Error() string {
	return fmt.Sprintf("link %s.%s: join key is an error value: %v", e.ParentType, e.Field, e.Cause)
}

func (e *KeyFieldError) SafeError() string { return e.Error() }

func (e *KeyFieldError) Unwrap() error { return e.Cause }

// SubqueryError carries the (already path-rewritten) GraphQL errors an
// upstream returned alongside otherwise-usable data. It is per-field and
// recoverable: the caller still has whatever data the upstream did return.
type SubqueryError struct {
	Errors []UpstreamError
}

func (e *SubqueryError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Message
	}
	return fmt.Sprintf("%d upstream errors, first: %s", len(e.Errors), e.Errors[0].Message)
}
