// Package cycled parses cycled command flags and launches the cycle runtime.
package cycled

import (
	"context"
	"flag"
	"time"

	entrypoint "github.com/impactworks/impactstrike/internal/platform/cmd"
	cycledserver "github.com/impactworks/impactstrike/internal/services/cycled/app"
)

// Config holds cycled command configuration.
type Config struct {
	HTTPPort        int           `env:"IMPACT_STRIKE_CYCLED_HTTP_PORT" envDefault:"8091"`
	HealthPort      int           `env:"IMPACT_STRIKE_CYCLED_HEALTH_PORT" envDefault:"8092"`
	RPCURL          string        `env:"IMPACT_STRIKE_CYCLED_RPC_URL"`
	ContractAddress string        `env:"IMPACT_STRIKE_CYCLED_CONTRACT_ADDRESS"`
	PrivateKey      string        `env:"IMPACT_STRIKE_CYCLED_PRIVATE_KEY,unset"`
	ChainID         int64         `env:"IMPACT_STRIKE_CYCLED_CHAIN_ID" envDefault:"8453"`
	CronSecret      string        `env:"IMPACT_STRIKE_CYCLED_CRON_SECRET,unset"`
	TokenSecret     string        `env:"IMPACT_STRIKE_CYCLED_TOKEN_SECRET,unset"`
	TokenTTL        time.Duration `env:"IMPACT_STRIKE_CYCLED_TOKEN_TTL" envDefault:"24h"`
	PollInterval    time.Duration `env:"IMPACT_STRIKE_CYCLED_POLL_INTERVAL" envDefault:"3s"`
	MaxWait         time.Duration `env:"IMPACT_STRIKE_CYCLED_MAX_WAIT" envDefault:"2m"`
	RateLimit       int           `env:"IMPACT_STRIKE_CYCLED_RATE_LIMIT" envDefault:"10"`
	RateWindow      time.Duration `env:"IMPACT_STRIKE_CYCLED_RATE_WINDOW" envDefault:"60s"`
	DBPath          string        `env:"IMPACT_STRIKE_CYCLED_DB_PATH" envDefault:"data/cycled.db"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.HTTPPort, "http-port", cfg.HTTPPort, "The cycled HTTP server port")
	fs.IntVar(&cfg.HealthPort, "health-port", cfg.HealthPort, "The cycled health gRPC server port")
	fs.StringVar(&cfg.RPCURL, "rpc-url", cfg.RPCURL, "The ledger RPC endpoint URL")
	fs.StringVar(&cfg.ContractAddress, "contract-address", cfg.ContractAddress, "The game contract address")
	fs.Int64Var(&cfg.ChainID, "chain-id", cfg.ChainID, "The ledger chain id")
	fs.DurationVar(&cfg.TokenTTL, "token-ttl", cfg.TokenTTL, "Session token lifetime")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "Randomness fulfillment poll interval")
	fs.DurationVar(&cfg.MaxWait, "max-wait", cfg.MaxWait, "Maximum randomness fulfillment wait")
	fs.IntVar(&cfg.RateLimit, "rate-limit", cfg.RateLimit, "Verify endpoint requests per window")
	fs.DurationVar(&cfg.RateWindow, "rate-window", cfg.RateWindow, "Verify endpoint rate window")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The cycled SQLite database path")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the cycled runtime.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceCycled, func(context.Context) error {
		return cycledserver.Run(ctx, cycledserver.RuntimeConfig{
			HTTPPort:        cfg.HTTPPort,
			HealthPort:      cfg.HealthPort,
			RPCURL:          cfg.RPCURL,
			ContractAddress: cfg.ContractAddress,
			PrivateKey:      cfg.PrivateKey,
			ChainID:         cfg.ChainID,
			CronSecret:      cfg.CronSecret,
			TokenSecret:     cfg.TokenSecret,
			TokenTTL:        cfg.TokenTTL,
			PollInterval:    cfg.PollInterval,
			MaxWait:         cfg.MaxWait,
			RateLimit:       cfg.RateLimit,
			RateWindow:      cfg.RateWindow,
			DBPath:          cfg.DBPath,
		})
	})
}
