// Package config loads and validates the herd's YAML configuration
// document and derives the immutable per-member View each component
// actually depends on.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

// Logging mirrors the logging stanza of the config document.
type Logging struct {
	Level    string `yaml:"level"`
	Filename string `yaml:"filename"`
	Format   string `yaml:"format"`
}

// Config is the raw decode of the YAML document.
type Config struct {
	Servers         map[string]int      `yaml:"servers"`
	Hosts           map[string]string   `yaml:"hosts"`
	Neighbors       map[string][]string `yaml:"neighbors"`
	APIKey          string              `yaml:"api_key"`
	PlacesEndpoint  string              `yaml:"places_endpoint"`
	WhatsatTimeout  float64             `yaml:"whatsat_timeout"`
	PeerQueueBound  int                 `yaml:"peer_queue_bound"`
	Logging         Logging             `yaml:"logging"`
	Benchmark       map[string]any      `yaml:"benchmark"`
}

const (
	defaultWhatsatTimeout = 5.0
	defaultPeerQueueBound = 1024
	defaultHost           = "127.0.0.1"
)

// Load reads and decodes path, applies defaults, and returns the raw
// Config. It does not validate against a specific server name; callers
// do that via View, once they know which member they are.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if c.WhatsatTimeout <= 0 {
		c.WhatsatTimeout = defaultWhatsatTimeout
	}
	if c.PeerQueueBound <= 0 {
		c.PeerQueueBound = defaultPeerQueueBound
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// validate checks everything that does not depend on which server is
// launching: ports must be positive and distinct, the neighbor graph
// must be symmetric, and every neighbor name must be a known server.
func (c *Config) validate() error {
	var result *multierror.Error

	if len(c.Servers) == 0 {
		result = multierror.Append(result, fmt.Errorf("config: servers map is empty"))
	}
	byPort := make(map[int]string, len(c.Servers))
	for name, port := range c.Servers {
		if port <= 0 {
			result = multierror.Append(result, fmt.Errorf("config: server %q has non-positive port %d", name, port))
		}
		if other, ok := byPort[port]; ok {
			result = multierror.Append(result, fmt.Errorf("config: servers %q and %q share port %d", other, name, port))
		}
		byPort[port] = name
	}
	for name, peers := range c.Neighbors {
		if _, ok := c.Servers[name]; !ok {
			result = multierror.Append(result, fmt.Errorf("config: neighbors references unknown server %q", name))
			continue
		}
		for _, peer := range peers {
			if _, ok := c.Servers[peer]; !ok {
				result = multierror.Append(result, fmt.Errorf("config: %q lists unknown neighbor %q", name, peer))
				continue
			}
			if !contains(c.Neighbors[peer], name) {
				result = multierror.Append(result, fmt.Errorf("config: neighbor edge %q-%q is not symmetric", name, peer))
			}
		}
	}
	return result.ErrorOrNil()
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}

// View is the immutable, per-member snapshot of own name, listen
// endpoint, peer endpoints, neighbor names, and places API credentials.
// It is built once at startup and never mutated.
type View struct {
	Name           string
	ListenPort     int
	PeerEndpoints  map[string]string // every other server's name -> "host:port"
	Neighbors      []string
	APIKey         string
	PlacesEndpoint string
	WhatsatTimeout time.Duration
	PeerQueueBound int
	Logging        Logging
}

// NewView resolves the View for serverName, failing if serverName is
// not a key in the config's server map.
func NewView(c *Config, serverName string) (*View, error) {
	port, ok := c.Servers[serverName]
	if !ok {
		return nil, fmt.Errorf("config: %q is not a configured server name", serverName)
	}

	peerEndpoints := make(map[string]string, len(c.Servers))
	for name, p := range c.Servers {
		if name == serverName {
			continue
		}
		host := c.Hosts[name]
		if host == "" {
			host = defaultHost
		}
		peerEndpoints[name] = fmt.Sprintf("%s:%d", host, p)
	}

	return &View{
		Name:           serverName,
		ListenPort:     port,
		PeerEndpoints:  peerEndpoints,
		Neighbors:      append([]string(nil), c.Neighbors[serverName]...),
		APIKey:         c.APIKey,
		PlacesEndpoint: c.PlacesEndpoint,
		WhatsatTimeout: time.Duration(c.WhatsatTimeout * float64(time.Second)),
		PeerQueueBound: c.PeerQueueBound,
		Logging:        c.Logging,
	}, nil
}
