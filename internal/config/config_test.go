package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		App:      AppConfig{Env: "local", Port: 8080},
		Callback: CallbackConfig{URI: "https://tester.example.com/api/callbacks"},
		Twilio:   TwilioConfig{AccountSID: "AC123", AuthToken: "token"},
		OpenAI:   OpenAIConfig{APIKey: "sk-test"},
		Calls:    CallsConfig{SourceNumber: "+15550002222"},
	}
}

func TestValidate_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"APP_ENV", "CALLBACK_URI", "TWILIO_ACCOUNT_SID", "SOURCE_PHONE_NUMBER", "OPENAI_API_KEY"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s in %q", want, err.Error())
		}
	}
}

func TestValidate_AppliesDefaults(t *testing.T) {
	c := validConfig()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.Calls.RecognizeRetryDelay != time.Second {
		t.Fatalf("expected 1s retry delay, got %s", c.Calls.RecognizeRetryDelay)
	}
	if c.OpenAI.Model != "gpt-4" {
		t.Fatalf("expected default model, got %q", c.OpenAI.Model)
	}
	if c.Policy.DecisionTimeout <= 0 || c.Auth.TokenTTL <= 0 {
		t.Fatalf("expected positive timeouts")
	}
}

func TestValidate_ScriptedPolicyNeedsNoAPIKey(t *testing.T) {
	c := validConfig()
	c.OpenAI.APIKey = ""
	c.Policy.ScriptPath = "/etc/ivr/script.yaml"
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidate_RejectsRelativeCallbackURI(t *testing.T) {
	c := validConfig()
	c.Callback.URI = "/api/callbacks"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for relative callback uri")
	}
}

func TestValidate_ProductionJWTNeedsIssuerAndAudience(t *testing.T) {
	c := validConfig()
	c.App.Env = "production"
	c.Auth.JWTSecret = "secret"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production jwt without issuer/audience")
	}
}

func TestTwilioCallbackURI(t *testing.T) {
	c := validConfig()
	c.Callback.URI = "https://tester.example.com/api/callbacks/"
	if got := c.TwilioCallbackURI(); got != "https://tester.example.com/api/callbacks/twilio" {
		t.Fatalf("unexpected twilio callback uri %q", got)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("PORT", "9090")
	t.Setenv("CALLBACK_URI", "https://tester.example.com/api/callbacks")
	t.Setenv("TWILIO_ACCOUNT_SID", "AC1")
	t.Setenv("TWILIO_AUTH_TOKEN", "tok")
	t.Setenv("OPENAI_API_KEY", "sk")
	t.Setenv("SOURCE_PHONE_NUMBER", "+15550002222")
	t.Setenv("TARGET_PHONE_NUMBER", "+15550001111")
	t.Setenv("RECOGNIZE_RETRY_DELAY", "1500ms")

	c, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.App.Port != 9090 || c.HTTPAddr() != ":9090" {
		t.Fatalf("unexpected port %d", c.App.Port)
	}
	if c.Calls.TargetNumber != "+15550001111" {
		t.Fatalf("unexpected target %q", c.Calls.TargetNumber)
	}
	if c.Calls.RecognizeRetryDelay != 1500*time.Millisecond {
		t.Fatalf("unexpected retry delay %s", c.Calls.RecognizeRetryDelay)
	}
}

func TestLoad_RejectsBadPort(t *testing.T) {
	t.Setenv("PORT", "eighty")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for non-numeric port")
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ivr.yaml")
	body := "app_env: staging\ncallback_uri: https://cb.example.com/api/callbacks\ntwilio_account_sid: AC9\ntwilio_auth_token: t\nsource_phone_number: \"+15550002222\"\npolicy_script: ./script.yaml\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.App.Env != "staging" || c.Policy.ScriptPath != "./script.yaml" {
		t.Fatalf("unexpected config %+v", c)
	}
}
