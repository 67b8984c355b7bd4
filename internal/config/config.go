// Package config provides configuration management for the document
// translator. Configuration is stored as a JSON file in the user config
// directory; credentials can be overridden through environment variables.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"document-translator/internal/logger"
	"document-translator/internal/types"
)

const (
	// DefaultConfigFileName is the default configuration file name.
	DefaultConfigFileName = "document-translator-config.json"

	// EnvOpenAIAPIKey is the environment variable for the translation API key.
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
	// EnvOpenAIBaseURL is the environment variable for the translation API base URL.
	EnvOpenAIBaseURL = "OPENAI_BASE_URL"
	// EnvMathpixAppID is the environment variable for the math recognition app id.
	EnvMathpixAppID = "MATHPIX_APP_ID"
	// EnvMathpixAppKey is the environment variable for the math recognition app key.
	EnvMathpixAppKey = "MATHPIX_APP_KEY"

	// DefaultBaseURL is the default OpenAI-compatible API base URL.
	DefaultBaseURL = "https://api.openai.com/v1"
	// DefaultModel is the model used for the general translation domain.
	DefaultModel = "gpt-4o-mini"
	// DefaultSpecializedModel is the model used for the engineering,
	// academic and scientific domains.
	DefaultSpecializedModel = "gpt-4o"
	// DefaultMathBaseURL is the default math recognition endpoint.
	DefaultMathBaseURL = "https://api.mathpix.com/v3/text"

	// DefaultMaxChunkSize is the maximum translation chunk size in bytes.
	DefaultMaxChunkSize = 4000
	// DefaultConcurrency bounds concurrent capability calls within a stage.
	DefaultConcurrency = 3
	// DefaultMinPageChars is the text-density threshold below which a page
	// is treated as image-only and handed to OCR.
	DefaultMinPageChars = 40
)

// Tunable timeouts and retry counts. These are configuration, not part of any
// stage contract.
const (
	DefaultOCRTimeout         = 60 * time.Second
	DefaultRecognitionTimeout = 30 * time.Second
	DefaultTranslationTimeout = 120 * time.Second
	DefaultTranslationRetries = 2
	DefaultRetryDelay         = 2 * time.Second
)

// Config holds all application configuration.
type Config struct {
	OpenAIAPIKey  string `json:"openai_api_key"`
	OpenAIBaseURL string `json:"openai_base_url"`
	// GeneralModel and SpecializedModel map translation domains to models:
	// general uses GeneralModel, every other domain uses SpecializedModel.
	GeneralModel     string `json:"general_model"`
	SpecializedModel string `json:"specialized_model"`

	MathpixAppID   string `json:"mathpix_app_id"`
	MathpixAppKey  string `json:"mathpix_app_key"`
	MathpixBaseURL string `json:"mathpix_base_url"`

	// OCRLanguages maps a source language to the Tesseract trained-data
	// codes used when a page falls back to OCR.
	OCRLanguages map[types.Language][]string `json:"ocr_languages"`

	MaxChunkSize int `json:"max_chunk_size"`
	Concurrency  int `json:"concurrency"`
	MinPageChars int `json:"min_page_chars"`

	OCRTimeoutSeconds         int `json:"ocr_timeout_seconds"`
	RecognitionTimeoutSeconds int `json:"recognition_timeout_seconds"`
	TranslationTimeoutSeconds int `json:"translation_timeout_seconds"`
	TranslationRetries        int `json:"translation_retries"`
	RetryDelaySeconds         int `json:"retry_delay_seconds"`

	// Glossary maps source-language terms to preferred English terms, folded
	// into the translation prompt. Never applied to placeholder tokens.
	Glossary map[string]string `json:"glossary,omitempty"`
}

// OCRTimeout returns the OCR per-call timeout.
func (c *Config) OCRTimeout() time.Duration {
	return time.Duration(c.OCRTimeoutSeconds) * time.Second
}

// RecognitionTimeout returns the math recognition per-call timeout.
func (c *Config) RecognitionTimeout() time.Duration {
	return time.Duration(c.RecognitionTimeoutSeconds) * time.Second
}

// TranslationTimeout returns the translation per-chunk timeout.
func (c *Config) TranslationTimeout() time.Duration {
	return time.Duration(c.TranslationTimeoutSeconds) * time.Second
}

// RetryDelay returns the base delay between retry attempts.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySeconds) * time.Second
}

// ModelForDomain maps a translation domain to the configured model name.
func (c *Config) ModelForDomain(domain types.Domain) string {
	if domain == types.DomainGeneral || domain == "" {
		return c.GeneralModel
	}
	return c.SpecializedModel
}

// Manager loads, stores and persists the application configuration.
type Manager struct {
	configPath string
	config     *Config
}

// NewManager creates a Manager with the specified config path. If configPath
// is empty, the default path in the user's config directory is used.
func NewManager(configPath string) (*Manager, error) {
	if configPath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			logger.Error("failed to get user home directory", err)
			return nil, types.NewAppError(types.ErrConfig, "failed to get user home directory", err)
		}
		configPath = filepath.Join(homeDir, ".config", "document-translator", DefaultConfigFileName)
	}

	return &Manager{
		configPath: configPath,
		config:     Default(),
	}, nil
}

// Default returns a Config populated with default values.
func Default() *Config {
	return &Config{
		OpenAIBaseURL:    DefaultBaseURL,
		GeneralModel:     DefaultModel,
		SpecializedModel: DefaultSpecializedModel,
		MathpixBaseURL:   DefaultMathBaseURL,
		OCRLanguages: map[types.Language][]string{
			types.LanguageRussian: {"rus", "eng"},
			types.LanguageArabic:  {"ara", "eng"},
			types.LanguageChinese: {"chi_sim", "eng"},
		},
		MaxChunkSize:              DefaultMaxChunkSize,
		Concurrency:               DefaultConcurrency,
		MinPageChars:              DefaultMinPageChars,
		OCRTimeoutSeconds:         int(DefaultOCRTimeout / time.Second),
		RecognitionTimeoutSeconds: int(DefaultRecognitionTimeout / time.Second),
		TranslationTimeoutSeconds: int(DefaultTranslationTimeout / time.Second),
		TranslationRetries:        DefaultTranslationRetries,
		RetryDelaySeconds:         int(DefaultRetryDelay / time.Second),
	}
}

// Load loads configuration from the config file. A missing file is not an
// error; defaults are used. Environment variables override credentials.
func (m *Manager) Load() error {
	logger.Debug("loading configuration", logger.String("path", m.configPath))

	data, err := os.ReadFile(m.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Info("config file not found, using defaults")
			m.config = Default()
		} else {
			logger.Error("failed to read config file", err)
			return types.NewAppError(types.ErrConfig, "failed to read config file", err)
		}
	} else {
		cfg := Default()
		if err := json.Unmarshal(data, cfg); err != nil {
			logger.Warn("invalid config file format, using defaults", logger.Err(err))
			m.config = Default()
		} else {
			m.config = cfg
		}
	}

	m.applyEnvOverrides()
	m.applyDefaults()
	return nil
}

// applyEnvOverrides lets environment variables take precedence for
// credentials and endpoints.
func (m *Manager) applyEnvOverrides() {
	if v := os.Getenv(EnvOpenAIAPIKey); v != "" {
		m.config.OpenAIAPIKey = v
	}
	if v := os.Getenv(EnvOpenAIBaseURL); v != "" {
		m.config.OpenAIBaseURL = v
	}
	if v := os.Getenv(EnvMathpixAppID); v != "" {
		m.config.MathpixAppID = v
	}
	if v := os.Getenv(EnvMathpixAppKey); v != "" {
		m.config.MathpixAppKey = v
	}
}

// applyDefaults backfills zero values left by a partial config file.
func (m *Manager) applyDefaults() {
	def := Default()
	if m.config.OpenAIBaseURL == "" {
		m.config.OpenAIBaseURL = def.OpenAIBaseURL
	}
	if m.config.GeneralModel == "" {
		m.config.GeneralModel = def.GeneralModel
	}
	if m.config.SpecializedModel == "" {
		m.config.SpecializedModel = def.SpecializedModel
	}
	if m.config.MathpixBaseURL == "" {
		m.config.MathpixBaseURL = def.MathpixBaseURL
	}
	if len(m.config.OCRLanguages) == 0 {
		m.config.OCRLanguages = def.OCRLanguages
	}
	if m.config.MaxChunkSize <= 0 {
		m.config.MaxChunkSize = def.MaxChunkSize
	}
	if m.config.Concurrency <= 0 {
		m.config.Concurrency = def.Concurrency
	}
	if m.config.MinPageChars <= 0 {
		m.config.MinPageChars = def.MinPageChars
	}
	if m.config.OCRTimeoutSeconds <= 0 {
		m.config.OCRTimeoutSeconds = def.OCRTimeoutSeconds
	}
	if m.config.RecognitionTimeoutSeconds <= 0 {
		m.config.RecognitionTimeoutSeconds = def.RecognitionTimeoutSeconds
	}
	if m.config.TranslationTimeoutSeconds <= 0 {
		m.config.TranslationTimeoutSeconds = def.TranslationTimeoutSeconds
	}
	if m.config.TranslationRetries <= 0 {
		m.config.TranslationRetries = def.TranslationRetries
	}
}

// Save persists the current configuration to the config file.
func (m *Manager) Save() error {
	dir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return types.NewAppError(types.ErrConfig, "failed to create config directory", err)
	}

	data, err := json.MarshalIndent(m.config, "", "  ")
	if err != nil {
		return types.NewAppError(types.ErrConfig, "failed to serialize config", err)
	}

	if err := os.WriteFile(m.configPath, data, 0600); err != nil {
		return types.NewAppError(types.ErrConfig, "failed to write config file", err)
	}

	logger.Info("configuration saved")
	return nil
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	return m.config
}

// Set replaces the current configuration.
func (m *Manager) Set(cfg *Config) {
	m.config = cfg
}
