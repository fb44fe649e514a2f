package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration required by the tester process.
// It is read once at startup and treated as immutable afterwards.
// No business logic should depend on raw environment variables.
type Config struct {
	App      AppConfig
	Callback CallbackConfig
	Twilio   TwilioConfig
	OpenAI   OpenAIConfig
	Policy   PolicyConfig
	Calls    CallsConfig
	Redis    RedisConfig
	Auth     AuthConfig
}

type AppConfig struct {
	Env      string
	Port     int
	LogLevel string
}

type CallbackConfig struct {
	// URI is the public URL of /api/callbacks as seen by the provider.
	URI string
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
}

type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

type PolicyConfig struct {
	// ScriptPath selects the YAML scripted policy instead of the language model.
	ScriptPath      string
	DecisionTimeout time.Duration
}

type CallsConfig struct {
	SourceNumber        string
	TargetNumber        string
	RecognizeRetryDelay time.Duration
}

type RedisConfig struct {
	// Addr is optional; without it the single-session cap is process-local.
	Addr string
}

type AuthConfig struct {
	// JWTSecret is optional; when empty /api/call is unauthenticated.
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string
	TokenTTL    time.Duration
}

const (
	defaultPort                = 8080
	defaultModel               = "gpt-4"
	defaultOpenAIBaseURL       = "https://api.openai.com/v1"
	defaultRecognizeRetryDelay = time.Second
	defaultDecisionTimeout     = 30 * time.Second
	defaultTokenTTL            = time.Hour
)

// Load reads configuration from the environment and, when path is non-empty,
// from a config file (any format viper understands). Environment wins.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if strings.TrimSpace(path) != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	c, err := fromViper(v)
	if err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_env", "local")
	v.SetDefault("port", defaultPort)
	v.SetDefault("openai_model", defaultModel)
	v.SetDefault("openai_base_url", defaultOpenAIBaseURL)
	v.SetDefault("recognize_retry_delay", defaultRecognizeRetryDelay)
	v.SetDefault("decision_timeout", defaultDecisionTimeout)
	v.SetDefault("api_jwt_ttl", defaultTokenTTL)
}

func fromViper(v *viper.Viper) (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(v.GetString("app_env"))
	c.App.LogLevel = strings.TrimSpace(v.GetString("log_level"))
	if port, err := intValue(v, "port"); err != nil {
		parseErrs = append(parseErrs, err)
	} else {
		c.App.Port = port
	}

	c.Callback.URI = strings.TrimSpace(v.GetString("callback_uri"))

	c.Twilio.AccountSID = strings.TrimSpace(v.GetString("twilio_account_sid"))
	c.Twilio.AuthToken = v.GetString("twilio_auth_token")

	c.OpenAI.APIKey = v.GetString("openai_api_key")
	c.OpenAI.Model = strings.TrimSpace(v.GetString("openai_model"))
	c.OpenAI.BaseURL = strings.TrimRight(strings.TrimSpace(v.GetString("openai_base_url")), "/")

	c.Policy.ScriptPath = strings.TrimSpace(v.GetString("policy_script"))
	if d, err := durationValue(v, "decision_timeout"); err != nil {
		parseErrs = append(parseErrs, err)
	} else {
		c.Policy.DecisionTimeout = d
	}

	c.Calls.SourceNumber = strings.TrimSpace(v.GetString("source_phone_number"))
	c.Calls.TargetNumber = strings.TrimSpace(v.GetString("target_phone_number"))
	if d, err := durationValue(v, "recognize_retry_delay"); err != nil {
		parseErrs = append(parseErrs, err)
	} else {
		c.Calls.RecognizeRetryDelay = d
	}

	c.Redis.Addr = strings.TrimSpace(v.GetString("redis_addr"))

	c.Auth.JWTSecret = v.GetString("api_jwt_secret")
	c.Auth.JWTIssuer = strings.TrimSpace(v.GetString("api_jwt_issuer"))
	c.Auth.JWTAudience = strings.TrimSpace(v.GetString("api_jwt_audience"))
	if d, err := durationValue(v, "api_jwt_ttl"); err != nil {
		parseErrs = append(parseErrs, err)
	} else {
		c.Auth.TokenTTL = d
	}

	return c, joinErrors(parseErrs)
}

func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT must be a valid port, got %d", c.App.Port))
	}

	if c.Callback.URI == "" {
		errs = append(errs, errors.New("CALLBACK_URI is required"))
	} else if u, err := url.Parse(c.Callback.URI); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("CALLBACK_URI must be an absolute URL, got %q", c.Callback.URI))
	}

	if c.Twilio.AccountSID == "" {
		errs = append(errs, errors.New("TWILIO_ACCOUNT_SID is required"))
	}
	if c.Twilio.AuthToken == "" {
		errs = append(errs, errors.New("TWILIO_AUTH_TOKEN is required"))
	}

	if c.Calls.SourceNumber == "" {
		errs = append(errs, errors.New("SOURCE_PHONE_NUMBER is required"))
	}

	// The language model is only needed when no scripted policy is configured.
	if c.Policy.ScriptPath == "" && c.OpenAI.APIKey == "" {
		errs = append(errs, errors.New("OPENAI_API_KEY is required unless POLICY_SCRIPT is set"))
	}
	if c.OpenAI.Model == "" {
		c.OpenAI.Model = defaultModel
	}
	if c.OpenAI.BaseURL == "" {
		c.OpenAI.BaseURL = defaultOpenAIBaseURL
	}
	if c.Policy.DecisionTimeout <= 0 {
		c.Policy.DecisionTimeout = defaultDecisionTimeout
	}

	if c.Calls.RecognizeRetryDelay <= 0 {
		c.Calls.RecognizeRetryDelay = defaultRecognizeRetryDelay
	}

	if c.Auth.JWTSecret != "" && c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("API_JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("API_JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.TokenTTL <= 0 {
		c.Auth.TokenTTL = defaultTokenTTL
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

// TwilioCallbackURI is where Twilio form callbacks are delivered.
func (c Config) TwilioCallbackURI() string {
	return strings.TrimRight(c.Callback.URI, "/") + "/twilio"
}

func intValue(v *viper.Viper, key string) (int, error) {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return 0, fmt.Errorf("%s is required", strings.ToUpper(key))
	}
	n := v.GetInt(key)
	if n == 0 && raw != "0" {
		return 0, fmt.Errorf("%s must be an integer, got %q", strings.ToUpper(key), raw)
	}
	return n, nil
}

func durationValue(v *viper.Viper, key string) (time.Duration, error) {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration, got %q", strings.ToUpper(key), raw)
	}
	return d, nil
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
