// Package config loads the source definitions the resultstore binary polls.
//
// Files ending in .toml are decoded as TOML; everything else is YAML.
//
// Example configuration:
//
//	port: 8080
//	poll_interval: 10s
//	retry_delay: 5s
//	max_concurrency: 8
//
//	sources:
//	  - name: GitHub API
//	    url: https://api.github.com
//	    timeout: 5s
//	    extractor: json:status
//	  - name: Internal
//	    url: ${INTERNAL_URL:-http://localhost:9000}/health
//	    retry_delay: 30s
//	    extractor:
//	      type: regex
//	      pattern: 'state=(\w+)'
//	      up: ok
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// minPollInterval is the minimum allowed polling interval.
// This prevents accidental DoS of endpoints with overly aggressive polling.
const minPollInterval = 1 * time.Second

const (
	defaultPort           = 8080
	defaultPollInterval   = 15 * time.Second
	defaultMaxConcurrency = 10
)

// Config is the root configuration structure.
//
// Use [Load], [Parse] or [ParseTOML] to create one.
type Config struct {
	// Port is the HTTP server port. Defaults to 8080.
	Port int `yaml:"port" toml:"port"`

	// PollInterval is the time between checks of a source that sets no
	// interval of its own. Defaults to 15s.
	PollInterval Duration `yaml:"poll_interval" toml:"poll_interval"`

	// RetryDelay is how long after a failed check a source is checked
	// again. Zero disables retries. Sources may override it.
	RetryDelay Duration `yaml:"retry_delay" toml:"retry_delay"`

	// MaxConcurrency bounds the requests in flight across all sources.
	// Defaults to 10.
	MaxConcurrency int `yaml:"max_concurrency" toml:"max_concurrency"`

	Sources []SourceConfig `yaml:"sources" toml:"sources"`
}

// SourceConfig defines a single polled source.
type SourceConfig struct {
	// Name identifies the source. Names must be unique.
	Name string `yaml:"name" toml:"name"`

	// URL is the endpoint to check.
	// Supports environment variable substitution: ${VAR} or ${VAR:-default}
	URL string `yaml:"url" toml:"url"`

	// Method is the HTTP method (GET, HEAD, POST). Defaults to GET.
	Method string `yaml:"method" toml:"method"`

	// Timeout is the request timeout. Defaults to 10s.
	Timeout Duration `yaml:"timeout" toml:"timeout"`

	// Headers are custom HTTP headers sent with each request.
	// Values support environment variable substitution.
	Headers map[string]string `yaml:"headers" toml:"headers"`

	Labels map[string]string `yaml:"labels" toml:"labels"`

	// Extractor determines how to read a status from the response.
	// Can be shorthand ("json:status", "contains:ok") or structured.
	Extractor ExtractorConfig `yaml:"extractor" toml:"extractor"`

	// Interval overrides the global poll_interval. Must be between 1s and 1h.
	Interval Duration `yaml:"interval" toml:"interval"`

	// RetryDelay overrides the global retry_delay. Negative disables
	// retries for this source.
	RetryDelay Duration `yaml:"retry_delay" toml:"retry_delay"`
}

// ExtractorConfig specifies how to determine a status from a response.
//
// It accepts a shorthand string:
//
//	extractor: json:status
//	extractor: contains:ok
//	extractor: regex:state=(\w+)
//	extractor: default
//
// or a structured object:
//
//	extractor:
//	  type: regex
//	  pattern: 'state=(\w+)'
//	  up: healthy
type ExtractorConfig struct {
	// Type is one of "default", "http", "json", "contains", "regex".
	Type string

	// Path is the JSON field path (for type: json).
	Path string

	// Text is the substring to search for (for type: contains).
	Text string

	// Pattern is the regular expression whose first group holds the
	// status (for type: regex).
	Pattern string

	// Up is the group value that means up (for type: regex). Defaults to "up".
	Up string
}

// Duration wraps time.Duration for YAML and TOML decoding.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

// UnmarshalText implements encoding.TextUnmarshaler, which the TOML decoder
// uses for quoted durations.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// rawExtractor is the structured form, decoded separately to avoid
// recursing into the custom unmarshalers.
type rawExtractor struct {
	Type    string `yaml:"type" toml:"type"`
	Path    string `yaml:"path" toml:"path"`
	Text    string `yaml:"text" toml:"text"`
	Pattern string `yaml:"pattern" toml:"pattern"`
	Up      string `yaml:"up" toml:"up"`
}

func (e *ExtractorConfig) setRaw(raw rawExtractor) {
	*e = ExtractorConfig(raw)
}

// UnmarshalYAML implements yaml.Unmarshaler for ExtractorConfig.
func (e *ExtractorConfig) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		return e.parseShorthand(s)
	case yaml.MappingNode:
		var raw rawExtractor
		if err := node.Decode(&raw); err != nil {
			return err
		}
		e.setRaw(raw)
		return nil
	}

	return fmt.Errorf("extractor must be a string or object, got %v", node.Kind)
}

// UnmarshalTOML implements toml.Unmarshaler for ExtractorConfig.
func (e *ExtractorConfig) UnmarshalTOML(data any) error {
	switch v := data.(type) {
	case string:
		return e.parseShorthand(v)
	case map[string]any:
		var raw rawExtractor
		for key, val := range v {
			s, ok := val.(string)
			if !ok {
				return fmt.Errorf("extractor.%s must be a string, got %T", key, val)
			}
			switch key {
			case "type":
				raw.Type = s
			case "path":
				raw.Path = s
			case "text":
				raw.Text = s
			case "pattern":
				raw.Pattern = s
			case "up":
				raw.Up = s
			default:
				return fmt.Errorf("unknown extractor field %q", key)
			}
		}
		e.setRaw(raw)
		return nil
	}

	return fmt.Errorf("extractor must be a string or table, got %T", data)
}

// parseShorthand parses extractor shorthand syntax.
//
// Supported formats:
//   - "default" → use default extractor
//   - "http" → use HTTP status code only
//   - "json:path" → extract from JSON field
//   - "contains:text" → check if body contains text
//   - "regex:pattern" → first capture group, "up" means up
func (e *ExtractorConfig) parseShorthand(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	if kind, value, ok := strings.Cut(s, ":"); ok {
		e.Type = kind
		switch kind {
		case "json":
			e.Path = value
		case "contains":
			e.Text = value
		case "regex":
			e.Pattern = value
		default:
			return fmt.Errorf("unknown extractor type %q", kind)
		}
		return nil
	}

	switch s {
	case "default", "http":
		e.Type = s
	default:
		return fmt.Errorf("unknown extractor %q (expected 'default', 'http', 'json:path', 'contains:text', or 'regex:pattern')", s)
	}
	return nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// Group 1: variable name
// Group 2: the ":-default" part (if present, indicates a default was specified)
// Group 3: the default value (may be empty for ${VAR:-})
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}

		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		hasDefault := len(submatches) > 2 && submatches[2] != ""
		defaultVal := ""
		if hasDefault && len(submatches) > 3 {
			defaultVal = submatches[3]
		}

		value, exists := os.LookupEnv(varName)
		if !exists {
			if hasDefault {
				return defaultVal
			}
			firstErr = fmt.Errorf("environment variable %q is not set", varName)
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Load reads and parses a configuration file. Files with a .toml extension
// are parsed as TOML, all others as YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return ParseTOML(data)
	}
	return Parse(data)
}

// Parse parses YAML configuration data.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return finish(&cfg)
}

// ParseTOML parses TOML configuration data.
func ParseTOML(data []byte) (*Config, error) {
	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}
	return finish(&cfg)
}

// finish applies defaults, expands environment variables and validates.
func finish(cfg *Config) (*Config, error) {
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = Duration(defaultPollInterval)
	}
	if cfg.MaxConcurrency == 0 {
		cfg.MaxConcurrency = defaultMaxConcurrency
	}

	if err := cfg.expandAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandAndValidate expands environment variables and validates the config.
func (c *Config) expandAndValidate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535, got %d", c.Port)
	}
	if c.PollInterval.Duration() < minPollInterval {
		return fmt.Errorf("poll_interval must be at least %s, got %s", minPollInterval, c.PollInterval.Duration())
	}
	if c.RetryDelay.Duration() < 0 {
		return fmt.Errorf("retry_delay cannot be negative, got %s", c.RetryDelay.Duration())
	}
	if c.MaxConcurrency < 0 {
		return fmt.Errorf("max_concurrency cannot be negative, got %d", c.MaxConcurrency)
	}

	if len(c.Sources) == 0 {
		return errors.New("at least one source must be defined")
	}

	seen := make(map[string]struct{}, len(c.Sources))
	for i := range c.Sources {
		src := &c.Sources[i]
		if err := src.expandAndValidate(i); err != nil {
			return err
		}
		if _, dup := seen[src.Name]; dup {
			return fmt.Errorf("sources[%d] (%s): duplicate name", i, src.Name)
		}
		seen[src.Name] = struct{}{}
	}

	return nil
}

func (s *SourceConfig) expandAndValidate(i int) error {
	if s.Name == "" {
		return fmt.Errorf("sources[%d]: name is required", i)
	}
	where := fmt.Sprintf("sources[%d] (%s)", i, s.Name)

	if s.URL == "" {
		return fmt.Errorf("%s: url is required", where)
	}
	expanded, err := expandEnvVars(s.URL)
	if err != nil {
		return fmt.Errorf("%s: url: %w", where, err)
	}
	s.URL = expanded

	parsedURL, err := url.Parse(s.URL)
	if err != nil {
		return fmt.Errorf("%s: invalid url: %w", where, err)
	}
	if parsedURL.Scheme == "" {
		return fmt.Errorf("%s: url must have a scheme (http:// or https://)", where)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("%s: url scheme must be http or https, got %q", where, parsedURL.Scheme)
	}

	for k, v := range s.Headers {
		expanded, err := expandEnvVars(v)
		if err != nil {
			return fmt.Errorf("%s: headers[%s]: %w", where, k, err)
		}
		s.Headers[k] = expanded
	}

	if s.Method != "" && s.Method != "GET" && s.Method != "HEAD" && s.Method != "POST" {
		return fmt.Errorf("%s: method must be GET, HEAD, or POST", where)
	}

	if s.Timeout != 0 && s.Timeout.Duration() < time.Second {
		return fmt.Errorf("%s: timeout must be at least 1s if specified, got %s", where, s.Timeout.Duration())
	}

	if s.Interval != 0 {
		if s.Interval.Duration() < time.Second {
			return fmt.Errorf("%s: interval must be at least 1s, got %s", where, s.Interval.Duration())
		}
		if s.Interval.Duration() > time.Hour {
			return fmt.Errorf("%s: interval must not exceed 1h, got %s", where, s.Interval.Duration())
		}
	}

	return validateExtractor(&s.Extractor, where)
}

// validateExtractor validates an extractor configuration.
func validateExtractor(e *ExtractorConfig, where string) error {
	switch e.Type {
	case "", "default", "http":
	case "json":
		if e.Path == "" {
			return fmt.Errorf("%s: extractor type 'json' requires a path", where)
		}
	case "contains":
		if e.Text == "" {
			return fmt.Errorf("%s: extractor type 'contains' requires text", where)
		}
	case "regex":
		if e.Pattern == "" {
			return fmt.Errorf("%s: extractor type 'regex' requires a pattern", where)
		}
		re, err := regexp.Compile(e.Pattern)
		if err != nil {
			return fmt.Errorf("%s: invalid extractor pattern: %w", where, err)
		}
		if re.NumSubexp() < 1 {
			return fmt.Errorf("%s: extractor pattern needs a capture group", where)
		}
	default:
		return fmt.Errorf("%s: unknown extractor type %q", where, e.Type)
	}

	return nil
}
