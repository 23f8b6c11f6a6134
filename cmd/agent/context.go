package main

import (
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/petermazzocco/particle-monitor/internal/config"
	"github.com/petermazzocco/particle-monitor/internal/ingest"
	"github.com/petermazzocco/particle-monitor/internal/notify"
)

type rootFlags struct {
	envFile    string
	endpoint   string
	resultsURL string
	verbose    bool
}

type commandContext struct {
	flags *rootFlags

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(flags *rootFlags) *commandContext {
	return &commandContext{flags: flags}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var files []string
		if path := strings.TrimSpace(c.flags.envFile); path != "" {
			files = append(files, path)
		}
		cfg, err := config.Load(files...)
		if err != nil {
			c.configErr = err
			return
		}
		if c.flags.endpoint != "" {
			cfg.APIEndpoint = c.flags.endpoint
		}
		if c.flags.resultsURL != "" {
			cfg.ResultsBaseURL = c.flags.resultsURL
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) logger() *slog.Logger {
	level := slog.LevelInfo
	if c.flags.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func (c *commandContext) client() *ingest.Client {
	return ingest.New(ingest.Config{
		Endpoint:       c.config.APIEndpoint,
		ResultsBaseURL: c.config.ResultsBaseURL,
		Logger:         c.logger(),
	})
}

// notifier publishes to NATS when NATS_URL is set and is a no-op otherwise.
func (c *commandContext) notifier() *notify.Notifier {
	logger := c.logger()
	if c.config.NATSURL == "" {
		return notify.New(notify.Nop{}, logger)
	}
	pub, err := notify.NewNATSPublisher(c.config.NATSURL, "particle-agent", logger)
	if err != nil {
		logger.Warn("upload events disabled", "error", err)
		return notify.New(notify.Nop{}, logger)
	}
	return notify.New(pub, logger)
}
