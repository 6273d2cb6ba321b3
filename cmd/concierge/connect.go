package main

import (
	"fmt"
	"time"

	"github.com/zulandar/concierge/internal/answer"
	"github.com/zulandar/concierge/internal/config"
	"github.com/zulandar/concierge/internal/db"
	"github.com/zulandar/concierge/internal/generator"
	"github.com/zulandar/concierge/internal/knowledge"
	"github.com/zulandar/concierge/internal/notify"
	"github.com/zulandar/concierge/internal/notify/discord"
	"github.com/zulandar/concierge/internal/notify/slack"
	"gorm.io/gorm"
)

// connectFromConfig loads the config file and opens the database.
func connectFromConfig(configPath string) (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	return cfg, gormDB, nil
}

// newResolver wires the knowledge index and, when a credential is
// configured, the generator into an answer resolver.
func newResolver(cfg *config.Config, gormDB *gorm.DB) *answer.Resolver {
	var gen answer.Generator
	if cfg.Generator.APIKey != "" {
		gen = generator.New(cfg.Generator)
	}
	return answer.New(knowledge.New(gormDB), gen, answer.Options{
		ChunkSize:    cfg.Typing.ChunkSize,
		ChunkDelay:   time.Duration(cfg.Typing.ChunkDelayMS) * time.Millisecond,
		IdleTimeout:  time.Duration(cfg.Generator.IdleTimeoutSec) * time.Second,
		SystemPrompt: cfg.Generator.SystemPrompt,
	})
}

// newNotifier builds the out-of-band operator notifier for the configured
// platform. It returns nil when no platform is set.
func newNotifier(cfg config.NotifyConfig) (notify.Notifier, error) {
	switch cfg.Platform {
	case "":
		return nil, nil
	case "slack":
		n, err := slack.New(slack.Opts{BotToken: cfg.Slack.BotToken, ChannelID: cfg.Channel})
		if err != nil {
			return nil, err
		}
		return n, nil
	case "discord":
		n, err := discord.New(discord.Opts{BotToken: cfg.Discord.BotToken, ChannelID: cfg.Channel})
		if err != nil {
			return nil, err
		}
		return n, nil
	default:
		return nil, fmt.Errorf("unknown notify platform %q", cfg.Platform)
	}
}
