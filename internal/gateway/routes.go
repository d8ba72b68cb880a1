package gateway

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"inshop.app/internal/ratelimit"
)

// Service is one backend the gateway forwards to.
type Service struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
	// HealthPath is probed by the health aggregator. Defaults to "/".
	HealthPath string `yaml:"healthPath"`
}

// Route maps an inbound path prefix (after the gateway prefix is stripped)
// onto a backend service and the backend's own route prefix. Window and
// MaxRequests override the default rate-limit policy for the route's group.
type Route struct {
	Prefix      string        `yaml:"prefix"`
	Service     string        `yaml:"service"`
	Target      string        `yaml:"target"`
	Group       string        `yaml:"group"`
	Window      time.Duration `yaml:"window"`
	MaxRequests int           `yaml:"maxRequests"`
}

// Table is the gateway routing configuration.
type Table struct {
	Services []Service `yaml:"services"`
	Routes   []Route   `yaml:"routes"`

	byName map[string]Service
}

// DefaultTable routes /auth and /users to the auth backend.
func DefaultTable(name, baseURL string) (*Table, error) {
	t := &Table{
		Services: []Service{{Name: name, URL: baseURL}},
		Routes: []Route{
			{Prefix: "/auth", Service: name, Target: "/auth", Group: "auth"},
			{Prefix: "/users", Service: name, Target: "/users", Group: "users"},
		},
	}
	if err := t.compile(); err != nil {
		return nil, err
	}
	return t, nil
}

// LoadRoutes reads a YAML route table from path.
func LoadRoutes(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read routes: %w", err)
	}
	return ParseRoutes(data)
}

// ParseRoutes decodes and validates a YAML route table.
func ParseRoutes(data []byte) (*Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse routes: %w", err)
	}
	if err := t.compile(); err != nil {
		return nil, err
	}
	return &t, nil
}

func (t *Table) compile() error {
	if len(t.Services) == 0 {
		return errors.New("gateway: no services configured")
	}
	t.byName = make(map[string]Service, len(t.Services))
	for i, svc := range t.Services {
		svc.Name = strings.TrimSpace(svc.Name)
		if svc.Name == "" {
			return fmt.Errorf("gateway: service %d has no name", i)
		}
		u, err := url.Parse(strings.TrimSpace(svc.URL))
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("gateway: service %q has invalid url %q", svc.Name, svc.URL)
		}
		svc.URL = strings.TrimRight(u.String(), "/")
		if svc.HealthPath == "" {
			svc.HealthPath = "/"
		}
		if _, dup := t.byName[svc.Name]; dup {
			return fmt.Errorf("gateway: duplicate service %q", svc.Name)
		}
		t.Services[i] = svc
		t.byName[svc.Name] = svc
	}
	for i, rt := range t.Routes {
		rt.Prefix = cleanPrefix(rt.Prefix)
		rt.Target = cleanPrefix(rt.Target)
		if rt.Prefix == "" {
			return fmt.Errorf("gateway: route %d has no prefix", i)
		}
		if _, ok := t.byName[rt.Service]; !ok {
			return fmt.Errorf("gateway: route %s names unknown service %q", rt.Prefix, rt.Service)
		}
		if rt.Group == "" {
			rt.Group = strings.TrimPrefix(rt.Prefix, "/")
		}
		if rt.Window < 0 || rt.MaxRequests < 0 {
			return fmt.Errorf("gateway: route %s has a negative rate limit", rt.Prefix)
		}
		t.Routes[i] = rt
	}
	if _, err := t.policies(); err != nil {
		return err
	}
	// Longest prefix wins.
	sort.SliceStable(t.Routes, func(i, j int) bool {
		return len(t.Routes[i].Prefix) > len(t.Routes[j].Prefix)
	})
	return nil
}

// Policies returns the rate-limit overrides declared per group. Fields left
// zero fall back to the limiter default.
func (t *Table) Policies() map[string]ratelimit.Policy {
	p, _ := t.policies()
	return p
}

func (t *Table) policies() (map[string]ratelimit.Policy, error) {
	out := make(map[string]ratelimit.Policy)
	for _, rt := range t.Routes {
		if rt.Window == 0 && rt.MaxRequests == 0 {
			continue
		}
		p := ratelimit.Policy{Window: rt.Window, MaxRequests: rt.MaxRequests}
		if prev, ok := out[rt.Group]; ok && prev != p {
			return nil, fmt.Errorf("gateway: group %q has conflicting rate limits", rt.Group)
		}
		out[rt.Group] = p
	}
	return out, nil
}

// Resolve finds the route for path and returns the backend path: the route
// prefix replaced by the route target. Prefixes match whole segments only.
func (t *Table) Resolve(path string) (Route, Service, string, bool) {
	for _, rt := range t.Routes {
		if path != rt.Prefix && !strings.HasPrefix(path, rt.Prefix+"/") {
			continue
		}
		rest := strings.TrimPrefix(path, rt.Prefix)
		target := rt.Target + rest
		if target == "" {
			target = "/"
		}
		return rt, t.byName[rt.Service], target, true
	}
	return Route{}, Service{}, "", false
}

// StripPrefix removes the gateway's global prefix from path. It reports false
// when path is outside the prefix.
func StripPrefix(prefix, path string) (string, bool) {
	prefix = cleanPrefix(prefix)
	if prefix == "" {
		return path, true
	}
	if path == prefix {
		return "/", true
	}
	if !strings.HasPrefix(path, prefix+"/") {
		return "", false
	}
	return strings.TrimPrefix(path, prefix), true
}

func cleanPrefix(p string) string {
	p = strings.TrimSpace(p)
	p = strings.TrimRight(p, "/")
	if p != "" && !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}
