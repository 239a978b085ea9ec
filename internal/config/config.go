// Package config loads the read-only configuration objects the core
// consults: per-endpoint listen/root/method/CGI settings and the
// MIME-type table. Nothing in this package is mutated after load.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Seconds is a config-file duration written as a plain integer number of
// seconds (matching the "keepalive timeout (seconds)" configuration
// input), unmarshaled into a time.Duration so the rest of the codebase
// never has to know the on-disk unit.
type Seconds time.Duration

// UnmarshalYAML decodes an integer (or float) YAML scalar as a count of
// seconds. gopkg.in/yaml.v3 has no built-in duration-string support and
// time.Duration does not implement encoding.TextUnmarshaler, so without
// this a bare `keepalive_timeout: 75` would silently unmarshal as 75
// nanoseconds instead of 75 seconds.
func (s *Seconds) UnmarshalYAML(value *yaml.Node) error {
	var n float64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("config: %s must be a number of seconds: %w", value.Tag, err)
	}
	*s = Seconds(time.Duration(n * float64(time.Second)))
	return nil
}

// Duration converts back to a time.Duration for use by the timeout sweep.
func (s Seconds) Duration() time.Duration { return time.Duration(s) }

// Endpoint is one listening endpoint's configuration record.
type Endpoint struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
	Root    string `yaml:"root"`

	Methods []string `yaml:"methods"`

	KeepaliveTimeout Seconds `yaml:"keepalive_timeout"`

	CGIEnabled    bool     `yaml:"cgi_enabled"`
	CGIExtensions []string `yaml:"cgi_extensions"`
	CGITimeout    Seconds  `yaml:"cgi_timeout"`

	Index     []string `yaml:"index"`
	Autoindex bool     `yaml:"autoindex"`

	ServerName string `yaml:"server_name"`
}

// File is the top-level YAML document: one or more endpoints sharing one
// process, matching ServerManager::initializeServers in the reference
// implementation, which iterates a vector<ServerConfig>.
type File struct {
	Endpoints []Endpoint `yaml:"endpoints"`
}

func (e *Endpoint) setDefaults() {
	if e.KeepaliveTimeout <= 0 {
		e.KeepaliveTimeout = Seconds(75 * time.Second)
	}
	if e.CGITimeout <= 0 {
		e.CGITimeout = Seconds(10 * time.Second)
	}
	if len(e.Methods) == 0 {
		e.Methods = []string{"GET", "POST", "DELETE"}
	}
	if len(e.Index) == 0 {
		e.Index = []string{"index.html"}
	}
	if e.ServerName == "" {
		e.ServerName = "webserv/1.0"
	}
	if e.Address == "" {
		e.Address = "0.0.0.0"
	}
}

// AllowsMethod reports whether the endpoint's allow-list permits method m.
func (e *Endpoint) AllowsMethod(m string) bool {
	for _, allowed := range e.Methods {
		if allowed == m {
			return true
		}
	}
	return false
}

// IsCGIExtension reports whether ext (including the leading dot) is
// configured as a CGI extension for this endpoint.
func (e *Endpoint) IsCGIExtension(ext string) bool {
	if !e.CGIEnabled {
		return false
	}
	for _, want := range e.CGIExtensions {
		if want == ext {
			return true
		}
	}
	return false
}

// Load reads and parses a YAML configuration file into a slice of
// Endpoint records with defaults applied.
func Load(path string) ([]Endpoint, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if len(f.Endpoints) == 0 {
		return nil, fmt.Errorf("config: %s declares no endpoints", path)
	}

	for i := range f.Endpoints {
		f.Endpoints[i].setDefaults()
	}
	return f.Endpoints, nil
}
