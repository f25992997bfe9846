// Package config provides configuration types and loading for netclaw.
package config

import "time"

// Config is the root configuration struct.
// Top-level groups: Model, Providers, Controller, Approvals, MFA, Slack,
// Gateway, Audit, Policy, Logging.
type Config struct {
	Model      ModelConfig      `json:"model"`
	Providers  ProvidersConfig  `json:"providers"`
	Controller ControllerConfig `json:"controller"`
	Approvals  ApprovalsConfig  `json:"approvals"`
	MFA        MFAConfig        `json:"mfa"`
	Slack      SlackConfig      `json:"slack"`
	Gateway    GatewayConfig    `json:"gateway"`
	Audit      AuditConfig      `json:"audit"`
	Policy     PolicyConfig     `json:"policy"`
	Logging    LoggingConfig    `json:"logging"`
}

// ---------------------------------------------------------------------------
// Model – LLM behaviour
// ---------------------------------------------------------------------------

// ModelConfig groups LLM model and agent-loop settings.
type ModelConfig struct {
	Provider          string  `json:"provider" envconfig:"NETCLAW_MODEL_PROVIDER"`
	Name              string  `json:"name" envconfig:"NETCLAW_MODEL_NAME"`
	MaxTokens         int     `json:"maxTokens" envconfig:"NETCLAW_MODEL_MAX_TOKENS"`
	Temperature       float64 `json:"temperature" envconfig:"NETCLAW_MODEL_TEMPERATURE"`
	MaxToolIterations int     `json:"maxToolIterations" envconfig:"NETCLAW_MODEL_MAX_TOOL_ITERATIONS"`
}

// ---------------------------------------------------------------------------
// Providers – LLM endpoints
// ---------------------------------------------------------------------------

// ProvidersConfig contains LLM provider configurations.
type ProvidersConfig struct {
	Anthropic ProviderConfig `json:"anthropic"`
	OpenAI    ProviderConfig `json:"openai"`
}

// ProviderConfig contains API credentials for a provider.
type ProviderConfig struct {
	APIKey  string `json:"apiKey" envconfig:"API_KEY"`
	APIBase string `json:"apiBase,omitempty" envconfig:"API_BASE"`
}

// ---------------------------------------------------------------------------
// Controller – managed network backend
// ---------------------------------------------------------------------------

// ControllerConfig configures the network controller clients. APIToken is
// used for integration (read) endpoints; Username/Password establish the
// session used for writes.
type ControllerConfig struct {
	BaseURL     string        `json:"baseUrl" envconfig:"UNIFI_BASE_URL"`
	Username    string        `json:"username" envconfig:"UNIFI_USERNAME"`
	Password    string        `json:"password" envconfig:"UNIFI_PASSWORD"`
	Site        string        `json:"site" envconfig:"UNIFI_SITE"`
	APIToken    string        `json:"apiToken" envconfig:"UNIFI_API_TOKEN"`
	InsecureTLS bool          `json:"insecureTls" envconfig:"UNIFI_INSECURE_TLS"`
	Timeout     time.Duration `json:"timeout" envconfig:"UNIFI_TIMEOUT"`
}

// HasSession reports whether write credentials are configured.
func (c ControllerConfig) HasSession() bool {
	return c.Username != "" && c.Password != ""
}

// ---------------------------------------------------------------------------
// Approvals – confirmation store
// ---------------------------------------------------------------------------

// ApprovalsConfig configures pending-action lifetime and audit storage.
type ApprovalsConfig struct {
	TTL           time.Duration `json:"ttl" envconfig:"NETCLAW_APPROVALS_TTL"`
	SweepInterval time.Duration `json:"sweepInterval" envconfig:"NETCLAW_APPROVALS_SWEEP_INTERVAL"`
	Retention     time.Duration `json:"retention" envconfig:"NETCLAW_APPROVALS_RETENTION"`
	RequesterOnly bool          `json:"requesterOnly" envconfig:"NETCLAW_APPROVALS_REQUESTER_ONLY"`
	DBPath        string        `json:"dbPath" envconfig:"NETCLAW_APPROVALS_DB_PATH"`
}

// ---------------------------------------------------------------------------
// MFA – push escalation for critical actions
// ---------------------------------------------------------------------------

// MFAConfig configures the push-approval provider.
type MFAConfig struct {
	IntegrationKey string        `json:"integrationKey" envconfig:"DUO_INTEGRATION_KEY"`
	SecretKey      string        `json:"secretKey" envconfig:"DUO_SECRET_KEY"`
	APIHost        string        `json:"apiHost" envconfig:"DUO_API_HOST"`
	User           string        `json:"user" envconfig:"DUO_MFA_USER"`
	Timeout        time.Duration `json:"timeout" envconfig:"DUO_TIMEOUT"`
}

// Enabled reports whether every field needed for push approval is set.
func (c MFAConfig) Enabled() bool {
	return c.IntegrationKey != "" && c.SecretKey != "" && c.APIHost != "" && c.User != ""
}

// ---------------------------------------------------------------------------
// Slack – chat collaborator
// ---------------------------------------------------------------------------

// SlackConfig configures the Slack Socket Mode adapter.
type SlackConfig struct {
	BotToken string `json:"botToken" envconfig:"SLACK_BOT_TOKEN"`
	AppToken string `json:"appToken" envconfig:"SLACK_APP_TOKEN"`
	Channel  string `json:"channel" envconfig:"SLACK_CHANNEL"`
	APIURL   string `json:"apiUrl,omitempty" envconfig:"SLACK_API_URL"`
}

// Enabled reports whether both Socket Mode tokens are present.
func (c SlackConfig) Enabled() bool {
	return c.BotToken != "" && c.AppToken != ""
}

// ---------------------------------------------------------------------------
// Gateway – HTTP API
// ---------------------------------------------------------------------------

// GatewayConfig configures the HTTP API server.
type GatewayConfig struct {
	Host      string `json:"host" envconfig:"NETCLAW_GATEWAY_HOST"`
	Port      int    `json:"port" envconfig:"NETCLAW_GATEWAY_PORT"`
	AuthToken string `json:"authToken,omitempty" envconfig:"NETCLAW_GATEWAY_AUTH_TOKEN"`
}

// ---------------------------------------------------------------------------
// Audit – transition stream
// ---------------------------------------------------------------------------

// AuditConfig configures the Kafka stream of pending-action transitions.
type AuditConfig struct {
	KafkaBrokers []string `json:"kafkaBrokers" envconfig:"NETCLAW_AUDIT_KAFKA_BROKERS"`
	KafkaTopic   string   `json:"kafkaTopic" envconfig:"NETCLAW_AUDIT_KAFKA_TOPIC"`
}

// ---------------------------------------------------------------------------
// Policy / Logging
// ---------------------------------------------------------------------------

// PolicyConfig points at optional risk-tier overrides.
type PolicyConfig struct {
	OverridesPath string `json:"overridesPath,omitempty" envconfig:"NETCLAW_POLICY_OVERRIDES_PATH"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level string `json:"level" envconfig:"LOG_LEVEL"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Model: ModelConfig{
			Provider:          "anthropic",
			Name:              "claude-sonnet-4-5",
			MaxTokens:         4096,
			Temperature:       0.2,
			MaxToolIterations: 10,
		},
		Controller: ControllerConfig{
			BaseURL:     "https://192.168.1.1",
			Site:        "default",
			InsecureTLS: true, // controllers ship self-signed certificates
			Timeout:     30 * time.Second,
		},
		Approvals: ApprovalsConfig{
			TTL:           5 * time.Minute,
			SweepInterval: 30 * time.Second,
			Retention:     time.Hour,
			RequesterOnly: true,
			DBPath:        "~/.netclaw/audit.db",
		},
		MFA: MFAConfig{
			Timeout: 60 * time.Second,
		},
		Slack: SlackConfig{
			Channel: "#alerts",
		},
		Gateway: GatewayConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Audit: AuditConfig{
			KafkaTopic: "netclaw.actions",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
