package config

import (
	"fmt"
	"strings"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL string `env:"RABBITMQ_URL,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`

	// LedgerBackend selects "rpc" for a live node or "mock" for local runs.
	LedgerBackend   string `env:"LEDGER_BACKEND,default=rpc"`
	SolanaRPCURL    string `env:"SOLANA_RPC_URL"`
	CustodianKey    string `env:"CUSTODIAN_KEY"`
	AddressCipherKey string `env:"ADDRESS_CIPHER_KEY,required=true"`

	WebhookURL string `env:"WEBHOOK_URL"`

	MaxRetry           int `env:"MAX_RETRY,default=3"`
	DispatchWindowSize int `env:"DISPATCH_WINDOW_SIZE,default=3"`
	DispatchFetchLimit int `env:"DISPATCH_FETCH_LIMIT,default=100"`
	RetryDelayMillis   int `env:"RETRY_DELAY_MILLIS,default=1000"`
	ConfirmTimeoutSecs int `env:"CONFIRM_TIMEOUT_SECS,default=30"`
	RateLimitPerSec    int `env:"RATE_LIMIT_PER_SEC,default=100"`
	ConsumerPrefetch   int `env:"CONSUMER_PREFETCH,default=1"`

	APIPort  int    `env:"API_PORT,default=8080"`
	APIKeys  string `env:"API_KEYS"`
	LogLevel string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch strings.ToLower(strings.TrimSpace(c.LedgerBackend)) {
	case "rpc":
		if strings.TrimSpace(c.SolanaRPCURL) == "" {
			return fmt.Errorf("SOLANA_RPC_URL is required when LEDGER_BACKEND=rpc")
		}
		if strings.TrimSpace(c.CustodianKey) == "" {
			return fmt.Errorf("CUSTODIAN_KEY is required when LEDGER_BACKEND=rpc")
		}
	case "mock":
	default:
		return fmt.Errorf("LEDGER_BACKEND must be rpc or mock, got %q", c.LedgerBackend)
	}
	return nil
}

// UseMockLedger reports whether the in-memory ledger backend is selected.
func (c *Config) UseMockLedger() bool {
	return strings.EqualFold(strings.TrimSpace(c.LedgerBackend), "mock")
}
