package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
)

const (
	// DefaultBaseDir is the base configuration directory name
	DefaultBaseDir = ".meeshy"
	// DefaultConfigFile is the default configuration filename
	DefaultConfigFile = "config.yaml"
)

// Config represents the main configuration structure for a CLI app
type Config struct {
	// AppName is the application name (e.g., "meeshy")
	AppName string `yaml:"-"`

	// CurrentContext is the name of the currently active context
	CurrentContext string `yaml:"current_context,omitempty"`

	// Contexts is a map of context name to context configuration
	Contexts map[string]*Context `yaml:"contexts,omitempty"`

	// configPath is the path to the config file
	configPath string
}

// Context represents a single environment configuration
type Context struct {
	// Name is the context name
	Name string `yaml:"name"`

	// Worker addresses the worker daemon this context talks to
	Worker *WorkerEndpoint `yaml:"worker,omitempty"`

	// Translate holds the translation backend credentials
	Translate *TranslateCredentials `yaml:"translate,omitempty"`

	// Voice holds the voice-clone TTS engine credentials
	Voice *VoiceCredentials `yaml:"voice,omitempty"`

	// Transcribe holds speech-to-text credentials. When absent and the
	// translate provider is openai, its key is reused.
	Transcribe *TranscribeCredentials `yaml:"transcribe,omitempty"`

	// Storage configures where audio artifacts are kept
	Storage *StorageConfig `yaml:"storage,omitempty"`

	// APIKey is a generic API key for single-backend setups
	APIKey string `yaml:"api_key,omitempty"`

	// BaseURL is the API base URL (optional, uses default if empty)
	BaseURL string `yaml:"base_url,omitempty"`

	// Timeout is the request timeout in seconds (optional)
	Timeout int `yaml:"timeout,omitempty"`

	// MaxRetries is the maximum number of retries (optional)
	MaxRetries int `yaml:"max_retries,omitempty"`

	// DefaultVoice is the default voice model for direct synthesis (optional)
	DefaultVoice string `yaml:"default_voice,omitempty"`

	// Extra stores application-specific settings
	Extra map[string]string `yaml:"extra,omitempty"`
}

// WorkerEndpoint locates a worker daemon.
type WorkerEndpoint struct {
	// PushURL is the websocket endpoint tasks are pushed to
	PushURL string `yaml:"push_url"`

	// SubscribeURL is the websocket endpoint result events arrive on
	SubscribeURL string `yaml:"subscribe_url,omitempty"`
}

// TranslateCredentials selects and authenticates the translation backend.
type TranslateCredentials struct {
	// Provider is "openai" or "gemini"
	Provider string `yaml:"provider"`

	// APIKey authenticates against the provider
	APIKey string `yaml:"api_key"`

	// Model overrides the provider's default model (optional)
	Model string `yaml:"model,omitempty"`

	// BaseURL overrides the provider endpoint (optional)
	BaseURL string `yaml:"base_url,omitempty"`
}

// TranscribeCredentials authenticates against a speech-to-text API.
type TranscribeCredentials struct {
	// APIKey authenticates against the API
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the endpoint (optional)
	BaseURL string `yaml:"base_url,omitempty"`

	// Model overrides the transcription model (optional)
	Model string `yaml:"model,omitempty"`
}

// VoiceCredentials authenticates against the voice-clone TTS engine.
type VoiceCredentials struct {
	// BaseURL is the engine endpoint
	BaseURL string `yaml:"base_url"`

	// APIKey is sent as a bearer token when non-empty
	APIKey string `yaml:"api_key,omitempty"`
}

// StorageConfig selects the artifact store.
type StorageConfig struct {
	// Dir is a local directory root. Takes precedence over Bucket.
	Dir string `yaml:"dir,omitempty"`

	// Bucket is an S3 bucket name
	Bucket string `yaml:"bucket,omitempty"`

	// Region is the S3 region
	Region string `yaml:"region,omitempty"`

	// BaseURL is the public prefix for artifact URLs (optional)
	BaseURL string `yaml:"base_url,omitempty"`
}

// LoadConfig loads or creates configuration for the specified app
func LoadConfig(appName string) (*Config, error) {
	return LoadConfigWithPath(appName, "")
}

// LoadConfigWithPath loads configuration from a custom path
func LoadConfigWithPath(appName, customPath string) (*Config, error) {
	var configPath string

	if customPath != "" {
		configPath = customPath
	} else {
		paths, err := NewPaths(appName)
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = paths.ConfigFile()
	}

	// Ensure config directory exists
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	cfg := &Config{
		AppName:    appName,
		Contexts:   make(map[string]*Context),
		configPath: configPath,
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// Create empty config file
			return cfg, cfg.Save()
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Ensure contexts map is initialized
	if cfg.Contexts == nil {
		cfg.Contexts = make(map[string]*Context)
	}

	cfg.AppName = appName
	cfg.configPath = configPath

	return cfg, nil
}

// Save saves the configuration to disk
func (c *Config) Save() error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// Path returns the config file path
func (c *Config) Path() string {
	return c.configPath
}

// Dir returns the config directory path
func (c *Config) Dir() string {
	return filepath.Dir(c.configPath)
}

// AddContext adds a new context
func (c *Config) AddContext(name string, ctx *Context) error {
	ctx.Name = name
	c.Contexts[name] = ctx
	return c.Save()
}

// DeleteContext removes a context
func (c *Config) DeleteContext(name string) error {
	if _, ok := c.Contexts[name]; !ok {
		return fmt.Errorf("context %q not found", name)
	}
	delete(c.Contexts, name)
	if c.CurrentContext == name {
		c.CurrentContext = ""
	}
	return c.Save()
}

// UseContext sets the current context
func (c *Config) UseContext(name string) error {
	if _, ok := c.Contexts[name]; !ok {
		return fmt.Errorf("context %q not found", name)
	}
	c.CurrentContext = name
	return c.Save()
}

// GetContext returns a specific context
func (c *Config) GetContext(name string) (*Context, error) {
	ctx, ok := c.Contexts[name]
	if !ok {
		return nil, fmt.Errorf("context %q not found", name)
	}
	return ctx, nil
}

// GetCurrentContext returns the current context
func (c *Config) GetCurrentContext() (*Context, error) {
	if c.CurrentContext == "" {
		return nil, fmt.Errorf("no current context set")
	}
	return c.GetContext(c.CurrentContext)
}

// ResolveContext returns the context by name, or current context if name is empty
func (c *Config) ResolveContext(name string) (*Context, error) {
	if name == "" {
		return c.GetCurrentContext()
	}
	return c.GetContext(name)
}

// ListContexts returns all context names
func (c *Config) ListContexts() []string {
	names := make([]string, 0, len(c.Contexts))
	for name := range c.Contexts {
		names = append(names, name)
	}
	return names
}

// GetExtra returns an extra value for the context
func (ctx *Context) GetExtra(key string) string {
	if ctx.Extra == nil {
		return ""
	}
	return ctx.Extra[key]
}

// SetExtra sets an extra value for the context
func (ctx *Context) SetExtra(key, value string) {
	if ctx.Extra == nil {
		ctx.Extra = make(map[string]string)
	}
	ctx.Extra[key] = value
}

// MaskAPIKey masks the API key for display
func MaskAPIKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}
