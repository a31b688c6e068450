package config

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	APIBaseURL  string `envconfig:"API_BASE_URL" default:"http://localhost:8080" validate:"required,url"`
	WSEndpoint  string `envconfig:"WS_ENDPOINT" default:"ws://localhost:8080/ws" validate:"required"`
	AccessToken string `envconfig:"ACCESS_TOKEN" validate:"required"`
	Environment string `envconfig:"ENVIRONMENT" default:"development" validate:"oneof=development staging production"`

	TypingIdle   time.Duration `envconfig:"TYPING_IDLE" default:"1500ms" validate:"gt=0"`
	TypingExpiry time.Duration `envconfig:"TYPING_EXPIRY" default:"5s" validate:"gt=0"`
}

func Load() (*Config, error) {
	godotenv.Load()

	var cfg Config
	if err := envconfig.Process("LOREPA", &cfg); err != nil {
		return nil, err
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
