// Package config builds the Settings value the driver constructs once per
// run and passes down explicitly to every component.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Stage selects which parameter-store path prefix credentials are read from.
type Stage string

const (
	StageProduction Stage = "production"
	StageStaging    Stage = "staging"
)

// Settings is the process-wide configuration, read once at driver entry.
type Settings struct {
	Stage                   Stage
	OverwriteOutgoingEmails string
	APIBaseURL              string

	// Ambient additions beyond spec.md's three env vars.
	HTTPTimeout            time.Duration
	MaxPages               int
	TokenStaleness         time.Duration
	MaxConcurrentPipelines int64
	MailAPIBaseURL         string
	LogLevel               string
}

// Load reads Settings from the process environment via viper, applying the
// same defaults-then-env-override shape as the rest of the stack.
func Load() (Settings, error) {
	v := viper.New()

	v.SetDefault("STAGE", string(StageStaging))
	v.SetDefault("OVERWRITE_OUTGOING_EMAILS", "")
	v.SetDefault("API_BASE_URL", "")
	v.SetDefault("HTTP_TIMEOUT_SECONDS", 30)
	v.SetDefault("MAX_PAGES", 10)
	v.SetDefault("TOKEN_STALENESS_SECONDS", 0)
	v.SetDefault("MAX_CONCURRENT_PIPELINES", 10)
	v.SetDefault("MAIL_API_BASE_URL", "https://api.mailgun.net")
	v.SetDefault("LOG_LEVEL", "info")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	stage := Stage(v.GetString("STAGE"))
	if stage != StageProduction && stage != StageStaging {
		stage = StageStaging
	}

	apiBaseURL := strings.TrimSuffix(v.GetString("API_BASE_URL"), "/")
	if apiBaseURL == "" {
		return Settings{}, fmt.Errorf("API_BASE_URL must be set")
	}

	return Settings{
		Stage:                   stage,
		OverwriteOutgoingEmails: v.GetString("OVERWRITE_OUTGOING_EMAILS"),
		APIBaseURL:              apiBaseURL,
		HTTPTimeout:             time.Duration(v.GetInt("HTTP_TIMEOUT_SECONDS")) * time.Second,
		MaxPages:                v.GetInt("MAX_PAGES"),
		TokenStaleness:          time.Duration(v.GetInt("TOKEN_STALENESS_SECONDS")) * time.Second,
		MaxConcurrentPipelines:  int64(v.GetInt("MAX_CONCURRENT_PIPELINES")),
		MailAPIBaseURL:          strings.TrimSuffix(v.GetString("MAIL_API_BASE_URL"), "/"),
		LogLevel:                v.GetString("LOG_LEVEL"),
	}, nil
}

// SecretPath builds the parameter-store path for a named secret, e.g.
// "/staging/email-worker/mailgun_key".
func (s Settings) SecretPath(name string) string {
	return fmt.Sprintf("/%s/email-worker/%s", s.Stage, name)
}
