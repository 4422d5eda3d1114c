package config

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"os"
	"sync"
	"time"
)

// Config holds all application configuration values for the NowShowing resolver service.
// It covers the HTTP listener, the availability prober, the failover controller, the
// metadata proxies, persistence, and the admin surface.
type Config struct {
	BaseURL             string        `json:"baseURL"`             // Base URL the service is reachable at (used in logs and links)
	ListenPort          int           `json:"listenPort"`          // TCP port for the HTTP listener
	WorkerThreads       int           `json:"workerThreads"`       // Number of pooled workers running availability probes
	UserAgent           string        `json:"userAgent"`           // User-Agent applied to every outbound request
	DefaultProvider     string        `json:"defaultProvider"`     // Provider preferred as the initial active candidate
	ProbeTimeout        time.Duration `json:"probeTimeout"`        // Per-probe budget covering HEAD and the ranged-GET fallback
	WatchdogDelay       time.Duration `json:"watchdogDelay"`       // Delay before a session's final failover attempt
	SessionTTL          time.Duration `json:"sessionTTL"`          // How long an untouched resolution session is kept
	ProbeCacheOK        time.Duration `json:"probeCacheOK"`        // Cache lifetime for probes that came back available
	ProbeCacheFail      time.Duration `json:"probeCacheFail"`      // Cache lifetime for probes that came back unavailable
	MetadataCacheTTL    time.Duration `json:"metadataCacheTTL"`    // Cache lifetime for OMDb/GNews responses
	ProbesPerSecond     int           `json:"probesPerSecond"`     // Outbound probe rate limit across all sessions
	OMDbAPIKey          string        `json:"omdbApiKey"`          // API key for the OMDb proxy endpoint
	GNewsAPIKey         string        `json:"gnewsApiKey"`         // API key for the news proxy endpoint
	CustomSourcesPath   string        `json:"customSourcesPath"`   // JSON file with user-added video sources, read once at startup
	DatabasePath        string        `json:"databasePath"`        // SQLite database for watchlist / continue-watching
	AdminTokenHash      string        `json:"adminTokenHash"`      // bcrypt hash guarding the admin endpoints; empty disables them
	Debug               bool          `json:"debug"`               // Enable debug logging
	ObfuscateUrls       bool          `json:"obfuscateUrls"`       // Obfuscate provider URLs in logs
	MaxConnectionsToApp int           `json:"maxConnectionsToApp"` // Maximum concurrent connections allowed to the app
}

// ConfigFile represents the JSON file structure for marshaling/unmarshaling configuration.
// Duration fields are stored as strings (e.g. "5s", "6s", "30m") and parsed on load.
type ConfigFile struct {
	BaseURL             string `json:"baseURL"`
	ListenPort          int    `json:"listenPort"`
	WorkerThreads       int    `json:"workerThreads"`
	UserAgent           string `json:"userAgent"`
	DefaultProvider     string `json:"defaultProvider"`
	ProbeTimeout        string `json:"probeTimeout"`
	WatchdogDelay       string `json:"watchdogDelay"`
	SessionTTL          string `json:"sessionTTL"`
	ProbeCacheOK        string `json:"probeCacheOK"`
	ProbeCacheFail      string `json:"probeCacheFail"`
	MetadataCacheTTL    string `json:"metadataCacheTTL"`
	ProbesPerSecond     int    `json:"probesPerSecond"`
	OMDbAPIKey          string `json:"omdbApiKey"`
	GNewsAPIKey         string `json:"gnewsApiKey"`
	CustomSourcesPath   string `json:"customSourcesPath"`
	DatabasePath        string `json:"databasePath"`
	AdminTokenHash      string `json:"adminTokenHash"`
	Debug               bool   `json:"debug"`
	ObfuscateUrls       bool   `json:"obfuscateUrls"`
	MaxConnectionsToApp int    `json:"maxConnectionsToApp"`
}

var (
	configCache *Config      // Cached configuration instance (singleton)
	configMutex sync.RWMutex // Mutex for safe concurrent access to configCache
)

// DefaultConfigPath is where LoadConfig looks unless NOWSHOWING_CONFIG overrides it.
const DefaultConfigPath = "/settings/config.json"

// LoadConfig loads the configuration from file or returns the cached instance.
//
// Process:
//   - Uses double-checked locking to avoid redundant reloads.
//   - Attempts to load from NOWSHOWING_CONFIG, falling back to /settings/config.json.
//   - Falls back to default config if the file is missing or invalid.
//   - Runs validation to ensure safe defaults.
func LoadConfig() *Config {
	configMutex.RLock()
	if configCache != nil {
		defer configMutex.RUnlock()
		return configCache
	}
	configMutex.RUnlock()

	configMutex.Lock()
	defer configMutex.Unlock()

	// Double-check under write lock
	if configCache != nil {
		return configCache
	}

	configPath := os.Getenv("NOWSHOWING_CONFIG")
	if configPath == "" {
		configPath = DefaultConfigPath
	}

	config, err := loadFromFile(configPath)
	if err != nil {
		log.Printf("Failed to load config from %s: %v", configPath, err)
		log.Printf("Falling back to default configuration...")
		config = getDefaultConfig()
	}

	// Ensure safe defaults for missing values
	validateAndSetDefaults(config)

	// API keys may arrive via environment instead of the file
	applyEnvOverrides(config)

	configCache = config

	if config.Debug {
		log.Printf("Configuration loaded:")
		log.Printf("  Base URL: %s", config.BaseURL)
		log.Printf("  Worker Threads: %d", config.WorkerThreads)
		log.Printf("  Probe Timeout: %s", config.ProbeTimeout)
		log.Printf("  Watchdog Delay: %s", config.WatchdogDelay)
		log.Printf("  Default Provider: %s", config.DefaultProvider)
		log.Printf("  Custom Sources: %s", config.CustomSourcesPath)
		log.Printf("  Obfuscate URLs: %v", config.ObfuscateUrls)
	}

	return config
}

// loadFromFile reads and parses the configuration from a JSON file.
func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var configFile ConfigFile
	if err := json.Unmarshal(data, &configFile); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return convertFromFile(&configFile)
}

// convertFromFile converts a ConfigFile to Config, parsing duration strings
// into time.Duration. Empty duration strings pick up defaults in
// validateAndSetDefaults rather than failing the whole load.
func convertFromFile(cf *ConfigFile) (*Config, error) {
	config := &Config{
		BaseURL:             cf.BaseURL,
		ListenPort:          cf.ListenPort,
		WorkerThreads:       cf.WorkerThreads,
		UserAgent:           cf.UserAgent,
		DefaultProvider:     cf.DefaultProvider,
		ProbesPerSecond:     cf.ProbesPerSecond,
		OMDbAPIKey:          cf.OMDbAPIKey,
		GNewsAPIKey:         cf.GNewsAPIKey,
		CustomSourcesPath:   cf.CustomSourcesPath,
		DatabasePath:        cf.DatabasePath,
		AdminTokenHash:      cf.AdminTokenHash,
		Debug:               cf.Debug,
		ObfuscateUrls:       cf.ObfuscateUrls,
		MaxConnectionsToApp: cf.MaxConnectionsToApp,
	}

	durations := []struct {
		raw  string
		dst  *time.Duration
		name string
	}{
		{cf.ProbeTimeout, &config.ProbeTimeout, "probeTimeout"},
		{cf.WatchdogDelay, &config.WatchdogDelay, "watchdogDelay"},
		{cf.SessionTTL, &config.SessionTTL, "sessionTTL"},
		{cf.ProbeCacheOK, &config.ProbeCacheOK, "probeCacheOK"},
		{cf.ProbeCacheFail, &config.ProbeCacheFail, "probeCacheFail"},
		{cf.MetadataCacheTTL, &config.MetadataCacheTTL, "metadataCacheTTL"},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.name, err)
		}
		*d.dst = parsed
	}

	return config, nil
}

// getDefaultConfig returns a baseline configuration with sensible defaults
// when no file is present.
func getDefaultConfig() *Config {
	return &Config{
		BaseURL:             "http://localhost:8080",
		ListenPort:          8080,
		WorkerThreads:       8,
		UserAgent:           "Mozilla/5.0 (compatible; NowShowing/1.0)",
		DefaultProvider:     "VidSrc.to",
		ProbeTimeout:        5 * time.Second,
		WatchdogDelay:       6 * time.Second,
		SessionTTL:          30 * time.Minute,
		ProbeCacheOK:        5 * time.Minute,
		ProbeCacheFail:      time.Minute,
		MetadataCacheTTL:    time.Hour,
		ProbesPerSecond:     20,
		CustomSourcesPath:   "/settings/custom-sources.json",
		DatabasePath:        "/settings/nowshowing.db",
		Debug:               false,
		ObfuscateUrls:       false,
		MaxConnectionsToApp: 100,
	}
}

// validateAndSetDefaults ensures all config values are valid, filling in
// defaults for missing/invalid ones.
func validateAndSetDefaults(config *Config) {
	defaults := getDefaultConfig()

	if config.BaseURL == "" {
		config.BaseURL = defaults.BaseURL
	} else if _, err := url.Parse(config.BaseURL); err != nil {
		log.Printf("Invalid baseURL %q, using default", config.BaseURL)
		config.BaseURL = defaults.BaseURL
	}
	if config.ListenPort <= 0 || config.ListenPort > 65535 {
		config.ListenPort = defaults.ListenPort
	}
	if config.WorkerThreads <= 0 {
		config.WorkerThreads = defaults.WorkerThreads
	}
	if config.UserAgent == "" {
		config.UserAgent = defaults.UserAgent
	}
	if config.DefaultProvider == "" {
		config.DefaultProvider = defaults.DefaultProvider
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = defaults.ProbeTimeout
	}
	if config.WatchdogDelay <= 0 {
		config.WatchdogDelay = defaults.WatchdogDelay
	}
	if config.SessionTTL <= 0 {
		config.SessionTTL = defaults.SessionTTL
	}
	if config.ProbeCacheOK <= 0 {
		config.ProbeCacheOK = defaults.ProbeCacheOK
	}
	if config.ProbeCacheFail <= 0 {
		config.ProbeCacheFail = defaults.ProbeCacheFail
	}
	if config.MetadataCacheTTL <= 0 {
		config.MetadataCacheTTL = defaults.MetadataCacheTTL
	}
	if config.ProbesPerSecond <= 0 {
		config.ProbesPerSecond = defaults.ProbesPerSecond
	}
	if config.CustomSourcesPath == "" {
		config.CustomSourcesPath = defaults.CustomSourcesPath
	}
	if config.DatabasePath == "" {
		config.DatabasePath = defaults.DatabasePath
	}
	if config.MaxConnectionsToApp <= 0 {
		config.MaxConnectionsToApp = defaults.MaxConnectionsToApp
	}
}

// applyEnvOverrides lets deployment environments supply secrets without
// writing them into the config file.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("OMDB_API_KEY"); v != "" {
		config.OMDbAPIKey = v
	}
	if v := os.Getenv("GNEWS_API_KEY"); v != "" {
		config.GNewsAPIKey = v
	}
}

// ClearConfigCache drops the cached configuration so the next LoadConfig
// re-reads the file. Used by the graceful reload path.
func ClearConfigCache() {
	configMutex.Lock()
	defer configMutex.Unlock()
	configCache = nil
}
