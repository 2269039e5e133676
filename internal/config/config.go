// Package config loads and validates the YAML document describing the
// endpoints a weaver instance federates.
package config

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/samsarahq/go/oops"
	"gopkg.in/yaml.v3"

	"github.com/samsarahq/weaver/internal/weaver"
)

// Document is the top-level shape of the configuration file:
//
//	endpoints:
//	  - name: accounts
//	    url: https://accounts.internal/graphql
//	    namespace: accounts
//	    links:
//	      Person.countryCode:
//	        field: geo_countryByCode
//	        argument: code
type Document struct {
	Endpoints []EndpointConfig `yaml:"endpoints"`
}

// EndpointConfig is one entry of Document.Endpoints.
type EndpointConfig struct {
	Name      string                `yaml:"name"`
	URL       string                `yaml:"url"`
	Namespace *string               `yaml:"namespace"`
	Links     map[string]LinkConfig `yaml:"links"`
}

// LinkConfig is one entry of EndpointConfig.Links, keyed by "ParentType.field".
type LinkConfig struct {
	Field     string `yaml:"field"`
	Argument  string `yaml:"argument"`
	BatchMode bool   `yaml:"batchMode"`
	KeyField  string `yaml:"keyField"`
}

// Load parses and validates a configuration document from r. Unknown keys
// at any level are rejected.
func Load(r io.Reader) (*Document, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, &weaver.ConfigError{Message: oops.Wrapf(err, "parsing configuration").Error()}
	}

	if err := validate(&doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func validate(doc *Document) error {
	if len(doc.Endpoints) == 0 {
		return &weaver.ConfigError{Message: "configuration must declare at least one endpoint"}
	}

	seen := map[string]bool{}
	for _, ep := range doc.Endpoints {
		if ep.Name == "" {
			return &weaver.ConfigError{Message: "every endpoint requires a non-empty name"}
		}
		if seen[ep.Name] {
			return &weaver.ConfigError{Message: fmt.Sprintf("duplicate endpoint name %q", ep.Name)}
		}
		seen[ep.Name] = true

		if err := validateURL(ep.Name, ep.URL); err != nil {
			return err
		}

		for key, link := range ep.Links {
			if !strings.Contains(key, ".") {
				return &weaver.ConfigError{Message: fmt.Sprintf("endpoint %q: link key %q must be a dotted parentType.field path", ep.Name, key)}
			}
			if link.Field == "" {
				return &weaver.ConfigError{Message: fmt.Sprintf("endpoint %q: link %q requires a field path", ep.Name, key)}
			}
			if link.Argument == "" {
				return &weaver.ConfigError{Message: fmt.Sprintf("endpoint %q: link %q requires an argument path", ep.Name, key)}
			}
			// A batchMode link without a keyField is legal: it declares
			// that the upstream echoes results in input order.
		}
	}
	return nil
}

func validateURL(endpointName, raw string) error {
	if raw == "" {
		return &weaver.ConfigError{Message: fmt.Sprintf("endpoint %q requires a url", endpointName)}
	}
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
		return &weaver.ConfigError{Message: fmt.Sprintf("endpoint %q url %q is not an absolute http(s) URL", endpointName, raw)}
	}
	return nil
}

// EffectiveNamespace returns ep's configured namespace, defaulting to its
// name when the configuration leaves it unset. An explicit empty string is
// honored, permitting one pass-through endpoint.
func (ep EndpointConfig) EffectiveNamespace() string {
	if ep.Namespace != nil {
		return *ep.Namespace
	}
	return ep.Name
}

// BuildEndpoints builds the weaver.Endpoint values the weaving pipeline
// consumes, using newClient to construct each endpoint's sub-query client.
func (d *Document) BuildEndpoints(newClient func(url string) weaver.GraphQLClient) []*weaver.Endpoint {
	out := make([]*weaver.Endpoint, len(d.Endpoints))
	for i, ep := range d.Endpoints {
		links := make(map[string]weaver.LinkSpec, len(ep.Links))
		for key, l := range ep.Links {
			links[key] = weaver.LinkSpec{
				Field:     l.Field,
				Argument:  l.Argument,
				BatchMode: l.BatchMode,
				KeyField:  l.KeyField,
			}
		}
		out[i] = &weaver.Endpoint{
			Name:      ep.Name,
			URL:       ep.URL,
			Namespace: ep.EffectiveNamespace(),
			Links:     links,
			Client:    newClient(ep.URL),
		}
	}
	return out
}
