package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Params holds the raw settings read from the environment. Command line
// flags start from these values and may override them.
type Params struct {
	ServerAddr     string        `envconfig:"ADDR" default:"localhost:8000"`
	DatabaseDSN    string        `envconfig:"DSN" default:"host=localhost user=postgres password=postgres dbname=vetchat sslmode=disable"`
	SigningKey     string        `envconfig:"SIGNING_KEY" default:"wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="`
	AllowedOrigins []string      `envconfig:"ALLOWED_ORIGINS"`
	Store          string        `envconfig:"STORE" default:"postgres"`
	Migrate        bool          `envconfig:"MIGRATE" default:"true"`
	RedisAddr      string        `envconfig:"REDIS_ADDR"`
	StoreTimeout   time.Duration `envconfig:"STORE_TIMEOUT" default:"3s"`
	MailTimeout    time.Duration `envconfig:"MAIL_TIMEOUT" default:"10s"`
	SMTPHost       string        `envconfig:"SMTP_HOST"`
	SMTPPort       int           `envconfig:"SMTP_PORT" default:"587"`
	SMTPUsername   string        `envconfig:"SMTP_USERNAME"`
	SMTPPassword   string        `envconfig:"SMTP_PASSWORD"`
	MailFrom       string        `envconfig:"MAIL_FROM" default:"noreply@vetchat.local"`
}

// LoadParams reads VETCHAT_* variables. Any of the given dotenv files that
// exist are loaded first; variables already set in the environment win.
func LoadParams(envFiles ...string) (Params, error) {
	for _, f := range envFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return Params{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var p Params
	if err := envconfig.Process("vetchat", &p); err != nil {
		return Params{}, fmt.Errorf("process env: %w", err)
	}
	return p, nil
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type Config struct {
	DatabaseDSN    string
	ServerAddr     string
	SigningKey     []byte
	AllowedOrigins []string
	Store          string
	Migrate        bool
	RedisAddr      string
	StoreTimeout   time.Duration
	MailTimeout    time.Duration
	SMTP           SMTPConfig
}

// MailEnabled reports whether assignment emails go to an SMTP relay rather
// than the log.
func (c *Config) MailEnabled() bool {
	return c.SMTP.Host != ""
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(base64Secret)
	if err != nil {
		return nil, err
	}
	if len(key) == 0 {
		return nil, fmt.Errorf("signing secret is empty")
	}
	return key, nil
}

func NewConfig(p Params) (*Config, error) {
	if p.ServerAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if p.SigningKey == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	store := strings.ToLower(strings.TrimSpace(p.Store))
	switch store {
	case StoreMemory:
	case StorePostgres:
		if p.DatabaseDSN == "" {
			return nil, fmt.Errorf("database DSN cannot be empty")
		}
	default:
		return nil, fmt.Errorf("unknown store %q", p.Store)
	}

	if p.StoreTimeout <= 0 {
		return nil, fmt.Errorf("store timeout must be positive")
	}
	if p.MailTimeout <= 0 {
		return nil, fmt.Errorf("mail timeout must be positive")
	}

	if p.SMTPHost != "" {
		if p.SMTPPort <= 0 || p.SMTPPort > 65535 {
			return nil, fmt.Errorf("invalid SMTP port %d", p.SMTPPort)
		}
		if p.MailFrom == "" {
			return nil, fmt.Errorf("mail sender cannot be empty")
		}
	}

	signingKey, err := decodeSigningSecret(p.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	var origins []string
	for _, o := range p.AllowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}

	return &Config{
		DatabaseDSN:    p.DatabaseDSN,
		ServerAddr:     p.ServerAddr,
		SigningKey:     signingKey,
		AllowedOrigins: origins,
		Store:          store,
		Migrate:        p.Migrate,
		RedisAddr:      p.RedisAddr,
		StoreTimeout:   p.StoreTimeout,
		MailTimeout:    p.MailTimeout,
		SMTP: SMTPConfig{
			Host:     p.SMTPHost,
			Port:     p.SMTPPort,
			Username: p.SMTPUsername,
			Password: p.SMTPPassword,
			From:     p.MailFrom,
		},
	}, nil
}
