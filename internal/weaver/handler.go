package weaver

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/gqlerrors"

	"github.com/samsarahq/weaver/batch"
)

// Handler serves the merged schema over GraphQL-over-HTTP: POST-only, a
// JSON {query, variables} body, a JSON {data, errors} response. Every
// request's context is wrapped with batch.WithBatching so batched link
// resolvers can combine sibling invocations within the one request.
func Handler(schema *graphql.Schema) http.Handler {
	return &httpHandler{schema: schema}
}

type httpHandler struct {
	schema *graphql.Schema
}

type httpPostBody struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables"`
}

type httpResponse struct {
	Data   interface{}                `json:"data,omitempty"`
	Errors []gqlerrors.FormattedError `json:"errors,omitempty"`
}

func (h *httpHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeResponse := func(status int, resp httpResponse) {
		body, err := json.Marshal(resp)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write(body)
	}

	if r.Method != http.MethodPost {
		writeResponse(http.StatusMethodNotAllowed, httpResponse{Errors: []gqlerrors.FormattedError{gqlerrors.NewFormattedError("request must be a POST")}})
		return
	}
	if r.Body == nil {
		writeResponse(http.StatusBadRequest, httpResponse{Errors: []gqlerrors.FormattedError{gqlerrors.NewFormattedError("request must include a query")}})
		return
	}

	var params httpPostBody
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeResponse(http.StatusBadRequest, httpResponse{Errors: []gqlerrors.FormattedError{gqlerrors.NewFormattedError(err.Error())}})
		return
	}

	ctx := batchedContext(r.Context())
	result := graphql.Do(graphql.Params{
		Schema:         *h.schema,
		RequestString:  params.Query,
		VariableValues: params.Variables,
		Context:        ctx,
	})

	writeResponse(http.StatusOK, httpResponse{Data: result.Data, Errors: result.Errors})
}

func batchedContext(ctx context.Context) context.Context {
	if batch.HasBatching(ctx) {
		return ctx
	}
	return batch.WithBatching(ctx)
}
