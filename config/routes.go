package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RouteSpec names one pipeline route: an ordered list of station names the
// engine will run. Station names are resolved to constructors in main.
type RouteSpec struct {
	Name     string   `yaml:"name"`
	Stations []string `yaml:"stations"`
}

type routesFile struct {
	Routes []RouteSpec `yaml:"routes"`
}

// LoadRoutes parses a routes YAML file:
//
//	routes:
//	  - name: phone_only
//	    stations: [identity, blueprint_loader, chimera, telnyx_gatekeep, database_save]
func LoadRoutes(path string) ([]RouteSpec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read routes file: %w", err)
	}
	var parsed routesFile
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse routes file: %w", err)
	}
	for _, r := range parsed.Routes {
		if r.Name == "" || len(r.Stations) == 0 {
			return nil, fmt.Errorf("routes file: every route needs a name and at least one station")
		}
	}
	return parsed.Routes, nil
}

// FindRoute returns the spec with the given name, or false.
func FindRoute(routes []RouteSpec, name string) (RouteSpec, bool) {
	for _, r := range routes {
		if r.Name == name {
			return r, true
		}
	}
	return RouteSpec{}, false
}
