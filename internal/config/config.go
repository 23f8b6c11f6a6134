// Package config reads settings for the API server and the capture agent
// from the environment, after loading an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

const (
	DefaultListenAddr     = ":3000"
	DefaultAPIEndpoint    = "http://localhost:8080/api/upload"
	DefaultResultsBaseURL = "http://localhost:8080/api"
	DefaultCallbackURL    = "http://localhost:3000/auth/google/callback"
	DefaultRateLimit      = 20
)

type Config struct {
	DSN string

	SessionSecret string
	GoogleKey     string
	GoogleSecret  string
	CallbackURL   string

	// Cloudflare R2
	AccountID       string
	AccessKeyID     string
	AccessKeySecret string
	BucketName      string

	ListenAddr     string
	APIEndpoint    string
	ResultsBaseURL string
	NATSURL        string

	CameraURLEnvironment string
	CameraURLUser        string

	RateLimitPerMinute int
}

// Load reads .env files (missing files are fine) and then the environment.
// Variables already set in the environment take precedence over .env.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading env file: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function.
func FromEnv(getenv func(string) string) (*Config, error) {
	c := &Config{
		DSN:                  getenv("DSN"),
		SessionSecret:        first(getenv("SESSION_SECRET"), getenv("JWT_SECRET_KEY")),
		GoogleKey:            getenv("GOOGLE_KEY"),
		GoogleSecret:         getenv("GOOGLE_SECRET"),
		CallbackURL:          first(getenv("OAUTH_CALLBACK_URL"), DefaultCallbackURL),
		AccountID:            getenv("ACCOUNT_ID"),
		AccessKeyID:          getenv("ACCESS_KEY_ID"),
		AccessKeySecret:      getenv("ACCESS_KEY_SECRET"),
		BucketName:           getenv("BUCKET_NAME"),
		ListenAddr:           first(getenv("LISTEN_ADDR"), DefaultListenAddr),
		APIEndpoint:          first(getenv("API_ENDPOINT"), DefaultAPIEndpoint),
		ResultsBaseURL:       first(getenv("RESULTS_BASE_URL"), DefaultResultsBaseURL),
		NATSURL:              getenv("NATS_URL"),
		CameraURLEnvironment: getenv("CAMERA_URL_ENVIRONMENT"),
		CameraURLUser:        getenv("CAMERA_URL_USER"),
		RateLimitPerMinute:   DefaultRateLimit,
	}
	if v := getenv("RATE_LIMIT_PER_MINUTE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("RATE_LIMIT_PER_MINUTE must be a positive integer, got %q", v)
		}
		c.RateLimitPerMinute = n
	}
	return c, nil
}

// ValidateServer checks the settings the API server cannot start without.
func (c *Config) ValidateServer() error {
	var missing []string
	if c.DSN == "" {
		missing = append(missing, "DSN")
	}
	if c.SessionSecret == "" {
		missing = append(missing, "SESSION_SECRET")
	}
	if c.BucketName == "" {
		missing = append(missing, "BUCKET_NAME")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %v", missing)
	}
	return nil
}

func first(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
