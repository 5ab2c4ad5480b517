package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/sethvargo/go-envconfig"
	log "github.com/sirupsen/logrus"
)

type (
	Config struct {
		PlatformAPIToken string `env:"TOKEN,required"`
		DBPath           string `env:"DB_PATH,default=warden.db"`
		DotPath          string `env:"DOT_PATH,default=~/.warden"`
		LogLevel         int    `env:"LOG_LEVEL,default=4"`
		BotUserID        int64  `env:"BOT_USER_ID"`
		MetricsAddr      string `env:"METRICS_ADDR,default=:2112"`

		Escalation Escalation
		Reversal   Reversal
	}

	Escalation struct {
		WarnThreshold int64 `env:"WARN_THRESHOLD,default=3"`
		// ChannelID is where threshold crossings are posted for review.
		ChannelID int64 `env:"ESCALATION_CHANNEL_ID"`
		// AuditChannelID receives the plain action audit trail.
		AuditChannelID int64 `env:"AUDIT_CHANNEL_ID"`
	}

	Reversal struct {
		MaxAttempts int           `env:"REVERSAL_MAX_ATTEMPTS,default=5"`
		Backoff     time.Duration `env:"REVERSAL_BACKOFF,default=2s"`
	}
)

var (
	once         sync.Once
	globalConfig = &Config{}
	globalErr    error
)

func Load() (Config, error) {
	once.Do(func() {
		cfg := &Config{}
		envcfg := envconfig.Config{
			Lookuper: envconfig.PrefixLookuper("WARDEN_", envconfig.OsLookuper()),
			Target:   cfg,
		}
		if err := envconfig.ProcessWith(context.Background(), &envcfg); err != nil {
			globalErr = fmt.Errorf("process env config: %w", err)
			return
		}
		dotPath, err := homedir.Expand(cfg.DotPath)
		if err != nil {
			globalErr = fmt.Errorf("expand dot path: %w", err)
			return
		}
		cfg.DotPath = dotPath
		log.Traceln("loaded config")
		globalConfig = cfg
	})
	return *globalConfig, globalErr
}

func Get() Config {
	cfg, err := Load()
	if err != nil {
		log.WithField("error", err.Error()).Error("cant load config")
	}
	return cfg
}
