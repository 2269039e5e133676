package weaver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/printer"
)

// HTTPClient is the default GraphQLClient: it prints a sub-query document
// back to GraphQL source text and dispatches it as a standard
// GraphQL-over-HTTP POST, the same request shape the introspection
// fetcher uses.
type HTTPClient struct {
	URL        string
	HTTPClient *http.Client
}

// NewHTTPClient returns an HTTPClient using http.DefaultClient.
func NewHTTPClient(url string) *HTTPClient {
	return &HTTPClient{URL: url, HTTPClient: http.DefaultClient}
}

type graphQLRequestBody struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

func (c *HTTPClient) Execute(ctx context.Context, doc *ast.Document, variableValues map[string]interface{}) (*ExecutionResult, error) {
	body, err := json.Marshal(graphQLRequestBody{
		Query:     printer.Print(doc).(string),
		Variables: variableValues,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding sub-query request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building sub-query request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/plain, */*")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("dispatching sub-query: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading sub-query response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("sub-query returned HTTP %d: %s", resp.StatusCode, respBody)
	}

	var result ExecutionResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decoding sub-query response: %w", err)
	}
	return &result, nil
}

func (c *HTTPClient) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}
