// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package config loads the daemon's process-bootstrap configuration
// (environment variables, §6) and owns the separate hot-swappable
// runtime config file (§3 Config, §6 /model and /expert/config).
package config

import (
	"fmt"
	"log"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// AppConfig is the env/bootstrap configuration. Unlike the runtime
// Store below, this is read once at startup and never rewritten.
type AppConfig struct {
	SIPServer   string `mapstructure:"SIP_SERVER" validate:"required"`
	SIPPort     int    `mapstructure:"SIP_PORT" validate:"required"`
	SIPUser     string `mapstructure:"SIP_USER" validate:"required"`
	SIPPassword string `mapstructure:"SIP_PASSWORD" validate:"required"`

	OpenAIAPIKey string `mapstructure:"OPENAI_API_KEY" validate:"required"`

	APIHost string `mapstructure:"API_HOST" validate:"required"`
	APIPort int    `mapstructure:"API_PORT" validate:"required"`

	// Operational SIP/RTP settings (platform defaults, not provider
	// credentials — mirrors the split the teacher's sipTelephony.parseConfig
	// draws between vault credentials and app-config operational settings).
	RTPPortRangeStart int    `mapstructure:"RTP_PORT_RANGE_START"`
	RTPPortRangeEnd   int    `mapstructure:"RTP_PORT_RANGE_END"`
	SIPTransport      string `mapstructure:"SIP_TRANSPORT"`

	// Admission filter configuration (§4.3): CIDRs of the SIP provider's
	// signaling network, and the server's own public IP / provider
	// hostname used for the NAT-traversal exception.
	AllowedNetworksCSV string `mapstructure:"ALLOWED_NETWORKS"`
	PublicServerIP     string `mapstructure:"PUBLIC_SERVER_IP"`
	ProviderHostname   string `mapstructure:"PROVIDER_HOSTNAME"`

	ConfigFilePath string `mapstructure:"CONFIG_FILE_PATH"`
	LogLevel       string `mapstructure:"LOG_LEVEL"`
	LogFilePath    string `mapstructure:"LOG_FILE_PATH"`

	// Realtime AI Stream Client settings (§4.4), shared by every call.
	RealtimeURL                  string  `mapstructure:"REALTIME_URL"`
	RealtimeModel                string  `mapstructure:"REALTIME_MODEL"`
	RealtimeVoice                string  `mapstructure:"REALTIME_VOICE"`
	RealtimeVADThreshold         float64 `mapstructure:"REALTIME_VAD_THRESHOLD"`
	RealtimeVADPrefixPaddingMs   int     `mapstructure:"REALTIME_VAD_PREFIX_PADDING_MS"`
	RealtimeVADSilenceDurationMs int     `mapstructure:"REALTIME_VAD_SILENCE_DURATION_MS"`

	// Product catalog / domain data (§4.5), loaded once at startup.
	CatalogDir      string `mapstructure:"CATALOG_DIR"`
	DomainsFilePath string `mapstructure:"DOMAINS_FILE_PATH"`

	// Knowledge base and product documentation (§4.6 search_knowledge_base,
	// load_standards_document, load_product_documentation).
	NormsIndexPath        string `mapstructure:"NORMS_INDEX_PATH"`
	FachwissenIndexPath   string `mapstructure:"FACHWISSEN_INDEX_PATH"`
	DocumentationDir      string `mapstructure:"DOCUMENTATION_DIR"`
	DocumentationBaseURL  string `mapstructure:"DOCUMENTATION_BASE_URL"`

	// Product Expert Client credentials (§4.6); any subset may be empty,
	// expert.New only builds providers it has keys for.
	AnthropicAPIKey        string  `mapstructure:"ANTHROPIC_API_KEY"`
	BedrockRegion          string  `mapstructure:"BEDROCK_REGION"`
	BedrockAccessKeyID     string  `mapstructure:"BEDROCK_ACCESS_KEY_ID"`
	BedrockSecretAccessKey string  `mapstructure:"BEDROCK_SECRET_ACCESS_KEY"`
	ExpertMinConfidence    float64 `mapstructure:"EXPERT_MIN_CONFIDENCE"`

	DefaultModel string `mapstructure:"DEFAULT_MODEL"`
}

// Load reads environment variables (with sane operational defaults) into
// an AppConfig and validates the required fields, following the same
// viper.SetDefault + AutomaticEnv + Unmarshal + validator.Struct sequence
// as the teacher's api/integration-api/config/config.go.
func Load() (*AppConfig, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal env config: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("required configuration missing: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SIP_PORT", 5060)
	v.SetDefault("SIP_TRANSPORT", "udp")
	v.SetDefault("RTP_PORT_RANGE_START", 10000)
	v.SetDefault("RTP_PORT_RANGE_END", 20000)
	v.SetDefault("API_HOST", "127.0.0.1")
	v.SetDefault("API_PORT", 8080)
	v.SetDefault("CONFIG_FILE_PATH", "/app/config/config.json")
	v.SetDefault("LOG_LEVEL", "info")

	v.SetDefault("REALTIME_URL", "wss://api.openai.com/v1/realtime")
	v.SetDefault("REALTIME_MODEL", "gpt-realtime")
	v.SetDefault("REALTIME_VOICE", "alloy")
	v.SetDefault("REALTIME_VAD_THRESHOLD", 0.4)
	v.SetDefault("REALTIME_VAD_PREFIX_PADDING_MS", 200)
	v.SetDefault("REALTIME_VAD_SILENCE_DURATION_MS", 400)

	v.SetDefault("CATALOG_DIR", "/app/data/catalogs")
	v.SetDefault("DOMAINS_FILE_PATH", "/app/data/domains.json")

	v.SetDefault("EXPERT_MIN_CONFIDENCE", 0.6)
	v.SetDefault("DEFAULT_MODEL", "gpt-realtime")

	// Viper's AutomaticEnv only binds keys it already knows about via
	// SetDefault/BindEnv; Unmarshal would otherwise miss required fields
	// that have no sane default (SIP_SERVER, credentials, API key).
	for _, key := range []string{
		"SIP_SERVER", "SIP_USER", "SIP_PASSWORD", "OPENAI_API_KEY",
		"ALLOWED_NETWORKS", "PUBLIC_SERVER_IP", "PROVIDER_HOSTNAME",
		"LOG_FILE_PATH", "ANTHROPIC_API_KEY", "BEDROCK_REGION",
		"BEDROCK_ACCESS_KEY_ID", "BEDROCK_SECRET_ACCESS_KEY",
		"NORMS_INDEX_PATH", "FACHWISSEN_INDEX_PATH",
		"DOCUMENTATION_DIR", "DOCUMENTATION_BASE_URL",
	} {
		if err := v.BindEnv(key); err != nil {
			log.Printf("config: bind env %s: %v", key, err)
		}
	}
}
