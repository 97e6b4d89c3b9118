package config

import (
	"strings"
	"testing"
)

func validConfig() *Config {
	cfg := &Config{}
	cfg.Telegram.Token = "123:token"
	cfg.Telegram.AdminID = 1000
	cfg.Verification.ChannelID = "-1002565132160"
	return cfg
}

func TestNormalizeDefaults(t *testing.T) {
	cfg := validConfig()
	if err := Normalize(cfg); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if cfg.Telegram.RunMode != RunModeLongpoll {
		t.Errorf("run_mode = %q, want longpoll default", cfg.Telegram.RunMode)
	}
	if cfg.Verification.CodeLength != 5 {
		t.Errorf("code_length = %d, want default 5", cfg.Verification.CodeLength)
	}
	if cfg.Verification.DeliveryMode != DeliveryModerator {
		t.Errorf("delivery_mode = %q, want moderator default", cfg.Verification.DeliveryMode)
	}
}

func TestNormalizeRequiredFields(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		errSub string
	}{
		{"missing token", func(c *Config) { c.Telegram.Token = "" }, "token"},
		{"missing admin", func(c *Config) { c.Telegram.AdminID = 0 }, "admin_id"},
		{"missing channel", func(c *Config) { c.Verification.ChannelID = " " }, "channel_id"},
		{"bad run mode", func(c *Config) { c.Telegram.RunMode = "carrier-pigeon" }, "run_mode"},
		{"code too short", func(c *Config) { c.Verification.CodeLength = 3 }, "code_length"},
		{"code too long", func(c *Config) { c.Verification.CodeLength = 11 }, "code_length"},
		{"bad delivery mode", func(c *Config) { c.Verification.DeliveryMode = "carrier" }, "delivery_mode"},
		{"negative attempts", func(c *Config) { c.Verification.MaxAttempts = -1 }, "max_attempts"},
		{"negative ttl", func(c *Config) { c.Verification.CodeTTLSeconds = -1 }, "code_ttl"},
		{"bad exclude", func(c *Config) { c.RateLimit.ExcludeUpdates = []string{"inline"} }, "exclude_updates"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			err := Normalize(cfg)
			if err == nil {
				t.Fatal("Normalize should fail")
			}
			if !strings.Contains(err.Error(), tc.errSub) {
				t.Fatalf("error %q does not mention %q", err, tc.errSub)
			}
		})
	}
}

func TestNormalizeAliases(t *testing.T) {
	cfg := validConfig()
	cfg.Telegram.RunMode = "polling"
	cfg.Verification.DeliveryMode = "automatic"
	cfg.Verification.CodeLength = 6
	if err := Normalize(cfg); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if cfg.Telegram.RunMode != RunModeLongpoll {
		t.Errorf("run_mode alias not normalized: %q", cfg.Telegram.RunMode)
	}
	if cfg.Verification.DeliveryMode != DeliveryAutomatic {
		t.Errorf("delivery_mode alias not normalized: %q", cfg.Verification.DeliveryMode)
	}
}

func TestNormalizeWebhookRequirements(t *testing.T) {
	cfg := validConfig()
	cfg.Telegram.RunMode = RunModeWebhook
	if err := Normalize(cfg); err == nil {
		t.Fatal("webhook mode without url/listen/port should fail")
	}
	cfg.Webhook.URL = "https://bot.example.com/hook"
	cfg.Webhook.Listen = "0.0.0.0"
	cfg.Webhook.Port = 8443
	if err := Normalize(cfg); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
}
