package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// ServerEnv holds process settings for the HTTP server.
type ServerEnv struct {
	Addr            string `env:"DUALTEXT_ADDR" envDefault:"127.0.0.1:8080"`
	BasePath        string `env:"DUALTEXT_BASE_PATH" envDefault:"/v0"`
	JWTSecret       string `env:"DUALTEXT_JWT_SECRET"`
	AllowDevHeaders bool   `env:"DUALTEXT_ALLOW_DEV_HEADERS" envDefault:"false"`
	ServiceName     string `env:"DUALTEXT_SERVICE_NAME" envDefault:"dualtext"`
	OTelEndpoint    string `env:"DUALTEXT_OTEL_ENDPOINT"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LoadServerEnv parses ServerEnv from the process environment.
func LoadServerEnv() (ServerEnv, error) {
	var cfg ServerEnv
	if err := ParseEnv(&cfg); err != nil {
		return ServerEnv{}, err
	}
	return cfg, nil
}
