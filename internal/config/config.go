package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env                  string        `mapstructure:"ENV"`
	Port                 string        `mapstructure:"PORT"`
	DatabaseURL          string        `mapstructure:"DATABASE_URL"`
	AdminKey             string        `mapstructure:"ADMIN_KEY"`
	CORSAllowed          string        `mapstructure:"CORS_ALLOWED_ORIGINS"`
	RequestTimeout       time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	LogLevel             string        `mapstructure:"LOG_LEVEL"`
	DefaultDepartment    string        `mapstructure:"DEFAULT_DEPARTMENT"`
	EscalationDepartment string        `mapstructure:"ESCALATION_DEPARTMENT"`
	VIPDepartment        string        `mapstructure:"VIP_DEPARTMENT"`
	DispatchGrace        time.Duration `mapstructure:"DISPATCH_GRACE"`
	EmergencyKeywords    string        `mapstructure:"EMERGENCY_KEYWORDS"`
	SlackWebhookURL      string        `mapstructure:"SLACK_WEBHOOK_URL"`
	HubSpotWebhookURL    string        `mapstructure:"HUBSPOT_WEBHOOK_URL"`
	OpenPhoneWebhookURL  string        `mapstructure:"OPENPHONE_WEBHOOK_URL"`
	SeedDemoData         bool          `mapstructure:"SEED_DEMO_DATA"`
}

func Load() (Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	_ = v.ReadInConfig()

	v.SetDefault("ENV", "dev")
	v.SetDefault("PORT", "8080")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	v.SetDefault("DEFAULT_DEPARTMENT", "customer_service")
	v.SetDefault("ESCALATION_DEPARTMENT", "admin")
	v.SetDefault("VIP_DEPARTMENT", "sales")
	v.SetDefault("DISPATCH_GRACE", "2s")
	v.SetDefault("EMERGENCY_KEYWORDS", "crisis,critical,down")
	v.SetDefault("SEED_DEMO_DATA", false)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// EmergencyVocabulary splits the configured synonym list. EMERGENCY
// and URGENT are always part of the vocabulary regardless of config.
func (c Config) EmergencyVocabulary() []string {
	var out []string
	for _, w := range strings.Split(c.EmergencyKeywords, ",") {
		if w = strings.TrimSpace(w); w != "" {
			out = append(out, w)
		}
	}
	return out
}
