package config

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"qagen/internal/bootstrap/logging"
	"qagen/internal/errs"
)

type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	Jira     JiraConfig     `mapstructure:"jira"`
	OpenAI   OpenAIConfig   `mapstructure:"openai"`
	Xray     XrayConfig     `mapstructure:"xray"`
	Events   EventsConfig   `mapstructure:"events"`
	Report   ReportConfig   `mapstructure:"report"`
	HTTP     HTTPConfig     `mapstructure:"http"`
}

type AppConfig struct {
	Name     string `mapstructure:"name"`
	Env      string `mapstructure:"env"`
	Workflow string `mapstructure:"workflow"`
}

type LogConfig struct {
	Format string `mapstructure:"format"`
	Level  string `mapstructure:"level"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type JiraConfig struct {
	BaseURL                 string        `mapstructure:"base_url"`
	Email                   string        `mapstructure:"email"`
	APIToken                string        `mapstructure:"api_token"`
	AcceptanceCriteriaField string        `mapstructure:"acceptance_criteria_field"`
	PageSize                int           `mapstructure:"page_size"`
	Timeout                 time.Duration `mapstructure:"timeout"`
}

type OpenAIConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type XrayConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	Token        string        `mapstructure:"token"`
	ClientID     string        `mapstructure:"client_id"`
	ClientSecret string        `mapstructure:"client_secret"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

type EventsConfig struct {
	NATSURL       string `mapstructure:"nats_url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

type ReportConfig struct {
	OutputDir   string `mapstructure:"output_dir"`
	DownloadDir string `mapstructure:"download_dir"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

func Load(ctx context.Context, configFile string) (Config, error) {
	if ctx == nil {
		return Config{}, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return Config{}, errs.Wrap(err, "check context")
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.config"))

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("QAG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile == "" && errors.As(err, &notFound) {
			// Defaults plus QAG_* env vars are a complete configuration.
			logging.Warn(logCtx, "config file not found, fallback to defaults and env")
		} else {
			return Config{}, errs.Wrap(err, "read config")
		}
	} else {
		logging.Info(logCtx, "using config file", slog.String("path", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errs.Wrap(err, "unmarshal config")
	}

	if strings.TrimSpace(cfg.Database.DSN) == "" {
		return Config{}, errors.New("database.dsn is required")
	}

	logging.Info(
		logCtx,
		"config loaded",
		slog.String("app", cfg.App.Name),
		slog.String("env", cfg.App.Env),
		slog.String("database_driver", cfg.Database.Driver),
		slog.String("workflow", cfg.App.Workflow),
	)

	return cfg, nil
}

// ValidateRemote checks the credentials needed by commands that talk to Jira, OpenAI and Xray.
func (c Config) ValidateRemote() error {
	var problems []error
	if strings.TrimSpace(c.Jira.BaseURL) == "" {
		problems = append(problems, errors.New("jira.base_url is required"))
	}
	if strings.TrimSpace(c.Jira.Email) == "" || strings.TrimSpace(c.Jira.APIToken) == "" {
		problems = append(problems, errors.New("jira.email and jira.api_token are required"))
	}
	if strings.TrimSpace(c.OpenAI.APIKey) == "" {
		problems = append(problems, errors.New("openai.api_key is required"))
	}
	hasToken := strings.TrimSpace(c.Xray.Token) != ""
	hasClient := strings.TrimSpace(c.Xray.ClientID) != "" && strings.TrimSpace(c.Xray.ClientSecret) != ""
	if !hasToken && !hasClient {
		problems = append(problems, errors.New("xray.token or xray.client_id/xray.client_secret is required"))
	}
	return errors.Join(problems...)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "qagen")
	v.SetDefault("app.env", "local")
	v.SetDefault("app.workflow", "workflow.toml")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.level", "info")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", ".qagen/state/records.sqlite")

	// Secrets have empty defaults so QAG_* env vars bind during Unmarshal.
	v.SetDefault("jira.base_url", "")
	v.SetDefault("jira.email", "")
	v.SetDefault("jira.api_token", "")
	v.SetDefault("jira.acceptance_criteria_field", "customfield_10900")
	v.SetDefault("jira.page_size", 50)
	v.SetDefault("jira.timeout", "30s")
	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.timeout", "60s")
	v.SetDefault("xray.base_url", "https://xray.cloud.getxray.app/api/v2")
	v.SetDefault("xray.token", "")
	v.SetDefault("xray.client_id", "")
	v.SetDefault("xray.client_secret", "")
	v.SetDefault("xray.timeout", "30s")
	v.SetDefault("events.nats_url", "")
	v.SetDefault("events.subject_prefix", "qagen")
	v.SetDefault("report.output_dir", "output")
	v.SetDefault("report.download_dir", "downloads")
	v.SetDefault("http.addr", ":8089")
}
