// Package routeload loads the gateway's static route table from a YAML
// file, used when GatewayConfig.RouteSource is "yaml" instead of the
// default KV-backed table (spec.md §4.4).
package routeload

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/agentmesh/mesh/internal/model"
)

// File is the top-level shape of a route YAML file:
//
//	routes:
//	  - category: docs
//	    action: ocr
//	    url: http://orchestrator:8081/agents/doc-ocr
type File struct {
	Routes []Entry `yaml:"routes"`
}

// Entry is one route definition.
type Entry struct {
	Category string `yaml:"category"`
	Action   string `yaml:"action"`
	URL      string `yaml:"url"`
}

// LoadFile parses path into a slice of model.Route.
func LoadFile(path string) ([]model.Route, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open route file: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load parses r into a slice of model.Route, validating that every entry
// has a category, action, and url.
func Load(r io.Reader) ([]model.Route, error) {
	var file File
	if err := yaml.NewDecoder(r).Decode(&file); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode route yaml: %w", err)
	}

	routes := make([]model.Route, 0, len(file.Routes))
	for i, e := range file.Routes {
		if e.Category == "" || e.Action == "" || e.URL == "" {
			return nil, fmt.Errorf("route %d: category, action, and url are all required", i)
		}
		routes = append(routes, model.Route{Category: e.Category, Action: e.Action, URL: e.URL})
	}
	return routes, nil
}
