// Package registry loads MCP server configurations from the conventional
// "mcpServers" JSON layout and resolves environment-variable placeholders.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// ServerConfig describes how to reach one MCP server. A config is either
// stdio-based (Command set) or HTTP-based (URL set), never both.
type ServerConfig struct {
	// Stdio servers.
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	WorkDir string            `json:"wkdir,omitempty"`

	// HTTP servers.
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// Kind reports which transport a config selects.
type Kind int

const (
	KindInvalid Kind = iota
	KindStdio
	KindHTTP
)

// Kind classifies the config by which fields are set.
func (c ServerConfig) Kind() Kind {
	switch {
	case c.Command != "" && c.URL != "":
		return KindInvalid
	case c.Command != "":
		return KindStdio
	case c.URL != "":
		return KindHTTP
	default:
		return KindInvalid
	}
}

// Config is the parsed registry file.
type Config struct {
	Servers map[string]ServerConfig `json:"mcpServers"`
}

// Load reads and parses a registry file from disk.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse parses registry JSON and validates every server entry.
func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	for name, server := range cfg.Servers {
		if server.Kind() == KindInvalid {
			return Config{}, fmt.Errorf("server %q: exactly one of command or url must be set", name)
		}
	}

	return cfg, nil
}

var (
	inputPlaceholder = regexp.MustCompile(`\$\{input:(\w+)\}`)
	envPlaceholder   = regexp.MustCompile(`\$\{(\w+)\}`)
)

// expand substitutes ${VAR} and ${input:name} placeholders. An ${input:name}
// placeholder reads the NAME environment variable (uppercased); unset
// variables expand to the empty string.
func expand(s string, lookup func(string) string) string {
	s = inputPlaceholder.ReplaceAllStringFunc(s, func(m string) string {
		name := inputPlaceholder.FindStringSubmatch(m)[1]
		return lookup(strings.ToUpper(name))
	})
	return envPlaceholder.ReplaceAllStringFunc(s, func(m string) string {
		return lookup(envPlaceholder.FindStringSubmatch(m)[1])
	})
}

// Resolved returns a copy of the config with all ${VAR} and ${input:name}
// placeholders in args, env values, and header values replaced from the
// process environment.
func (c ServerConfig) Resolved() ServerConfig {
	return c.resolvedWith(os.Getenv)
}

func (c ServerConfig) resolvedWith(lookup func(string) string) ServerConfig {
	out := c

	if len(c.Args) > 0 {
		out.Args = make([]string, len(c.Args))
		for i, arg := range c.Args {
			out.Args[i] = expand(arg, lookup)
		}
	}
	if len(c.Env) > 0 {
		out.Env = make(map[string]string, len(c.Env))
		for k, v := range c.Env {
			out.Env[k] = expand(v, lookup)
		}
	}
	if len(c.Headers) > 0 {
		out.Headers = make(map[string]string, len(c.Headers))
		for k, v := range c.Headers {
			out.Headers[k] = expand(v, lookup)
		}
	}

	return out
}
