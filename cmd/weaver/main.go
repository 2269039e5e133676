// Command weaver boots a schema-weaving proxy from a YAML configuration
// file: it introspects every configured endpoint, weaves their schemas
// into one, and serves the result at /graphql.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"

	"github.com/graphql-go/graphql"

	"github.com/samsarahq/weaver/internal/config"
	"github.com/samsarahq/weaver/internal/introspect"
	"github.com/samsarahq/weaver/internal/weaver"
)

func main() {
	configPath := flag.String("config", "weaver.yaml", "path to the endpoints configuration file")
	addr := flag.String("addr", ":8080", "address to serve the merged schema on")
	flag.Parse()

	f, err := os.Open(*configPath)
	if err != nil {
		log.Fatalf("weaver: opening config %q: %v", *configPath, err)
	}
	doc, err := config.Load(f)
	f.Close()
	if err != nil {
		log.Fatalf("weaver: %v", err)
	}

	endpoints := doc.BuildEndpoints(func(url string) weaver.GraphQLClient {
		return weaver.NewHTTPClient(url)
	})

	ctx := context.Background()
	upstreamSchemas := make(map[string]*graphql.Schema, len(endpoints))
	for _, ep := range endpoints {
		schema, err := introspect.Schema(ctx, http.DefaultClient, ep.Name, ep.URL)
		if err != nil {
			log.Fatalf("weaver: %v", err)
		}
		upstreamSchemas[ep.Name] = schema
	}

	merged, weavingErrors := weaver.Weave(endpoints, upstreamSchemas)
	for _, werr := range weavingErrors {
		log.Printf("weaver: %v", werr)
	}
	if merged == nil {
		log.Fatal("weaver: failed to weave a merged schema")
	}

	http.Handle("/graphql", weaver.Handler(merged))
	log.Printf("weaver: serving merged schema on %s/graphql", *addr)
	log.Fatal(http.ListenAndServe(*addr, nil))
}
