package config

import (
	"fmt"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL string `env:"RABBITMQ_URL,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`

	PostmarkServerToken  string `env:"POSTMARK_SERVER_TOKEN,required=true"`
	PostmarkAccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`
	EmailSender          string `env:"EMAIL_SENDER,default=noreply@edurelay.io"`
	SMSGatewayURL        string `env:"SMS_GATEWAY_URL,required=true"`
	SMSAPIKey            string `env:"SMS_API_KEY"`
	BotToken             string `env:"BOT_TOKEN,required=true"`

	RateLimitPerSec    int    `env:"RATE_LIMIT_PER_SEC,default=100"`
	WorkerConcurrency  int    `env:"WORKER_CONCURRENCY,default=16"`
	BroadcastBatchSize int    `env:"BROADCAST_BATCH_SIZE,default=500"`
	RetentionDays      int    `env:"RETENTION_DAYS,default=90"`
	APIPort            int    `env:"API_PORT,default=8080"`
	LogLevel           string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}
