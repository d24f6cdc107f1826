// Package config handles daemon configuration file management.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/austinkregel/local-media/grooved/internal/logger"
	"github.com/joho/godotenv"
)

// Config represents the daemon configuration
type Config struct {
	// BaseURL is the origin serving the media directories
	BaseURL string `json:"baseUrl"`

	// MediaRoot is the local directory served by the built-in HTTP server
	MediaRoot string `json:"mediaRoot"`

	// Pages lists the playlists, one media directory each
	Pages []Page `json:"pages"`

	// DefaultPage is the page loaded on start
	DefaultPage string `json:"defaultPage"`

	Audio    AudioConfig    `json:"audio"`
	Behavior BehaviorConfig `json:"behavior"`
	Effects  EffectsConfig  `json:"effects"`
	Storage  StorageConfig  `json:"storage"`
	Search   SearchConfig   `json:"search"`
	HTTP     HTTPConfig     `json:"http"`
	Log      logger.Config  `json:"log"`
}

// Page is one playlist view backed by a media directory
type Page struct {
	Name     string `json:"name"`
	MediaDir string `json:"mediaDir"`
	// Source selects the playlist backend: "http" (default), "dir" or "bucket"
	Source string `json:"source,omitempty"`
}

// AudioConfig contains audio-related settings
type AudioConfig struct {
	// SampleRate for audio output (default: 44100)
	SampleRate int `json:"sampleRate"`

	// DefaultVolume applied when nothing was restored (default: 0.5)
	DefaultVolume float64 `json:"defaultVolume"`

	// Extension that marks playable files in a listing (default: .mp3)
	Extension string `json:"extension"`
}

// BehaviorConfig contains behavior-related settings
type BehaviorConfig struct {
	// WrapAround makes sequential advance wrap at playlist boundaries
	// instead of clamping
	WrapAround bool `json:"wrapAround"`

	// ResumeOnStart restores the saved snapshot when a page loads
	ResumeOnStart bool `json:"resumeOnStart"`

	Repeat  bool `json:"repeat"`
	Shuffle bool `json:"shuffle"`

	// ErrorSkipDelay before advancing past a track that failed to decode
	ErrorSkipDelay Duration `json:"errorSkipDelay"`
}

// EffectsConfig contains effects pipeline settings
type EffectsConfig struct {
	Enabled        bool     `json:"enabled"`
	EngageOnStart  bool     `json:"engageOnStart"`
	RetuneInterval Duration `json:"retuneInterval"`
	GlideTau       Duration `json:"glideTau"`
	MaxBoostDB     float64  `json:"maxBoostDb"`
	FloorDB        float64  `json:"floorDb"`
}

// StorageConfig selects the key-value backend for snapshots and library
type StorageConfig struct {
	// Backend is "file" (default), "redis" or "memory"
	Backend       string `json:"backend"`
	KeyPrefix     string `json:"keyPrefix"`
	RedisAddr     string `json:"redisAddr,omitempty"`
	RedisPassword string `json:"redisPassword,omitempty"`
	RedisDB       int    `json:"redisDb,omitempty"`

	// Bucket settings for pages whose source is "bucket"
	BucketEndpoint  string `json:"bucketEndpoint,omitempty"`
	BucketName      string `json:"bucketName,omitempty"`
	BucketAccessKey string `json:"bucketAccessKey,omitempty"`
	BucketSecretKey string `json:"bucketSecretKey,omitempty"`
	BucketUseSSL    bool   `json:"bucketUseSsl,omitempty"`
}

// SearchConfig configures the remote search fallback
type SearchConfig struct {
	Endpoint string `json:"endpoint"`
	Limit    int    `json:"limit"`
}

// HTTPConfig configures the media/events HTTP server
type HTTPConfig struct {
	Listen string `json:"listen"`
}

// Duration is a time.Duration that reads and writes as "500ms" in JSON
type Duration time.Duration

// MarshalJSON implements json.Marshaler
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		BaseURL:     "http://127.0.0.1:5500",
		MediaRoot:   "public",
		DefaultPage: "songs",
		Pages: []Page{
			{Name: "songs", MediaDir: "songs"},
			{Name: "happy", MediaDir: "happy123"},
			{Name: "play2", MediaDir: "play2"},
			{Name: "play3", MediaDir: "play3"},
		},
		Audio: AudioConfig{
			SampleRate:    44100,
			DefaultVolume: 0.5,
			Extension:     ".mp3",
		},
		Behavior: BehaviorConfig{
			ResumeOnStart:  true,
			ErrorSkipDelay: Duration(2 * time.Second),
		},
		Effects: EffectsConfig{
			Enabled:        true,
			RetuneInterval: Duration(500 * time.Millisecond),
			GlideTau:       Duration(300 * time.Millisecond),
			MaxBoostDB:     6,
			FloorDB:        -6,
		},
		Storage: StorageConfig{
			Backend:   "file",
			RedisAddr: "127.0.0.1:6379",
		},
		Search: SearchConfig{
			Endpoint: "https://itunes.apple.com/search",
			Limit:    10,
		},
		HTTP: HTTPConfig{
			Listen: "127.0.0.1:5500",
		},
		Log: logger.Config{
			Level: logger.InfoLevel,
		},
	}
}

// PageByName returns the page with the given name
func (c *Config) PageByName(name string) (Page, bool) {
	for _, p := range c.Pages {
		if p.Name == name {
			return p, true
		}
	}
	return Page{}, false
}

// Manager handles loading and saving configuration
type Manager struct {
	configDir  string
	configPath string
	config     *Config
}

// NewManager creates a new configuration manager
func NewManager(configDir string) *Manager {
	return &Manager{
		configDir:  configDir,
		configPath: filepath.Join(configDir, "config.json"),
		config:     DefaultConfig(),
	}
}

// Load reads the configuration from disk, then applies environment overrides
func (m *Manager) Load() error {
	if err := os.MkdirAll(m.configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(m.configPath); os.IsNotExist(err) {
		m.config = DefaultConfig()
		if err := m.Save(); err != nil {
			return err
		}
	} else {
		data, err := os.ReadFile(m.configPath)
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		config := DefaultConfig() // Start with defaults
		if err := json.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse config: %w", err)
		}
		m.config = config
	}

	// .env is optional; existing environment variables win
	_ = godotenv.Load(filepath.Join(m.configDir, ".env"))
	applyEnv(m.config)
	return nil
}

// Save writes the configuration to disk
func (m *Manager) Save() error {
	if err := os.MkdirAll(m.configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(m.config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// Get returns the current configuration
func (m *Manager) Get() *Config {
	return m.config
}

// GetPath returns the config file path
func (m *Manager) GetPath() string {
	return m.configPath
}

// GetDir returns the config directory
func (m *Manager) GetDir() string {
	return m.configDir
}

// Update updates the configuration and saves it
func (m *Manager) Update(config *Config) error {
	m.config = config
	return m.Save()
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

// applyEnv overlays GROOVED_* environment variables
func applyEnv(c *Config) {
	c.BaseURL = getEnv("GROOVED_BASE_URL", c.BaseURL)
	c.MediaRoot = getEnv("GROOVED_MEDIA_ROOT", c.MediaRoot)
	c.DefaultPage = getEnv("GROOVED_DEFAULT_PAGE", c.DefaultPage)
	c.HTTP.Listen = getEnv("GROOVED_HTTP_LISTEN", c.HTTP.Listen)
	c.Log.Level = getEnv("GROOVED_LOG_LEVEL", c.Log.Level)
	c.Log.OutputPath = getEnv("GROOVED_LOG_FILE", c.Log.OutputPath)
	c.Effects.Enabled = getEnvBool("GROOVED_EFFECTS", c.Effects.Enabled)
	c.Behavior.WrapAround = getEnvBool("GROOVED_WRAP_AROUND", c.Behavior.WrapAround)
	c.Storage.Backend = getEnv("GROOVED_STORAGE", c.Storage.Backend)
	c.Storage.KeyPrefix = getEnv("GROOVED_KEY_PREFIX", c.Storage.KeyPrefix)
	c.Storage.RedisAddr = getEnv("GROOVED_REDIS_ADDR", c.Storage.RedisAddr)
	c.Storage.RedisPassword = getEnv("GROOVED_REDIS_PASSWORD", c.Storage.RedisPassword)
	c.Storage.RedisDB = getEnvInt("GROOVED_REDIS_DB", c.Storage.RedisDB)
	c.Storage.BucketEndpoint = getEnv("GROOVED_BUCKET_ENDPOINT", c.Storage.BucketEndpoint)
	c.Storage.BucketName = getEnv("GROOVED_BUCKET_NAME", c.Storage.BucketName)
	c.Storage.BucketAccessKey = getEnv("GROOVED_BUCKET_ACCESS_KEY", c.Storage.BucketAccessKey)
	c.Storage.BucketSecretKey = getEnv("GROOVED_BUCKET_SECRET_KEY", c.Storage.BucketSecretKey)
	c.Search.Endpoint = getEnv("GROOVED_SEARCH_ENDPOINT", c.Search.Endpoint)
	c.Search.Limit = getEnvInt("GROOVED_SEARCH_LIMIT", c.Search.Limit)
}
