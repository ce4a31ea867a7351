// Package config provides XML-based configuration management for the viewer.
package config

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// AppConfig represents the root XML configuration structure
type AppConfig struct {
	XMLName xml.Name `xml:"UniSetViewer"`

	// HTTP server for the view layer
	Server ServerConfig `xml:"Server"`

	// Aggregation endpoint and upstream servers
	Upstream UpstreamConfig `xml:"Upstream"`

	// Push-channel reconnect behaviour
	Transport TransportConfig `xml:"Transport"`

	// Chart retention
	Charts ChartConfig `xml:"Charts"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port         int    `xml:"Port"`
	BindAddress  string `xml:"BindAddress"`
	EnableCORS   bool   `xml:"EnableCORS"`
	AllowOrigins string `xml:"AllowOrigins"`
	ReadTimeout  int    `xml:"ReadTimeoutSeconds"`
	WriteTimeout int    `xml:"WriteTimeoutSeconds"`
	IdleTimeout  int    `xml:"IdleTimeoutSeconds"`
}

// UpstreamConfig points the engine at the local aggregation endpoint and the
// list of UniSet servers it aggregates.
type UpstreamConfig struct {
	AggregatorURL          string `xml:"AggregatorURL"`
	ServersFile            string `xml:"ServersFile"`
	RefreshIntervalSeconds int    `xml:"RefreshIntervalSeconds"`
	FetchTimeoutSeconds    int    `xml:"FetchTimeoutSeconds"`
}

// TransportConfig contains push-channel reconnect settings
type TransportConfig struct {
	BaseDelayMs          int `xml:"BaseDelayMs"`
	MaxDelayMs           int `xml:"MaxDelayMs"`
	MaxReconnectAttempts int `xml:"MaxReconnectAttempts"`
	PollIntervalMs       int `xml:"PollIntervalMs"`
}

// ChartConfig contains time-series retention settings
type ChartConfig struct {
	TimeRangeSeconds int `xml:"TimeRangeSeconds"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:         8099,
			BindAddress:  "127.0.0.1",
			EnableCORS:   true,
			AllowOrigins: "*",
			ReadTimeout:  30,
			WriteTimeout: 30,
			IdleTimeout:  120,
		},
		Upstream: UpstreamConfig{
			AggregatorURL:          "http://localhost:8080",
			ServersFile:            "./servers.yaml",
			RefreshIntervalSeconds: 10,
			FetchTimeoutSeconds:    5,
		},
		Transport: TransportConfig{
			BaseDelayMs:          500,
			MaxDelayMs:           30000,
			MaxReconnectAttempts: 10,
			PollIntervalMs:       2000,
		},
		Charts: ChartConfig{
			TimeRangeSeconds: 300,
		},
	}
}

// LoadConfig loads configuration from XML file
func LoadConfig(configPath string) (*AppConfig, error) {
	// If file doesn't exist, create default
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		config := DefaultConfig()
		if err := config.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		return config, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := &AppConfig{}
	if err := xml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyEnvironmentOverrides()
	config.resolvePaths(filepath.Dir(configPath))

	return config, nil
}

// Save saves the configuration to XML file
func (c *AppConfig) Save(configPath string) error {
	output, err := xml.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(xml.Header + "\n<!-- UniSet2 Viewer Configuration -->\n<!-- This file is auto-generated on first run -->\n\n")
	content := append(header, output...)

	if err := os.WriteFile(configPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// applyEnvironmentOverrides allows environment variables to override config values
func (c *AppConfig) applyEnvironmentOverrides() {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}

	if url := os.Getenv("AGGREGATOR_URL"); url != "" {
		c.Upstream.AggregatorURL = url
	}

	if servers := os.Getenv("SERVERS_FILE"); servers != "" {
		c.Upstream.ServersFile = servers
	}
}

// resolvePaths converts relative paths to absolute based on config file location
func (c *AppConfig) resolvePaths(configDir string) {
	if !filepath.IsAbs(c.Upstream.ServersFile) {
		c.Upstream.ServersFile = filepath.Join(configDir, c.Upstream.ServersFile)
	}
}

// GetServerAddr returns the server bind address
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}
