// Package config loads typed configuration structs from environment
// variables, reading a .env file first when one exists.
//
// Each config struct declares its variables with env tags:
//
//	type PaddleConfig struct {
//	    APIKey        string `env:"PADDLE_API_KEY,required"`
//	    WebhookSecret string `env:"PADDLE_WEBHOOK_SECRET,required"`
//	    Sandbox       bool   `env:"PADDLE_SANDBOX" envDefault:"true"`
//	}
//
//	var cfg PaddleConfig
//	if err := config.Load(&cfg); err != nil {
//	    ...
//	}
//
// Load caches by struct type, so components sharing a config type get the
// same parsed values without re-reading the environment.
package config
