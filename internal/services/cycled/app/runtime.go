// Package app wires the cycled runtime: the hourly cycle orchestrator behind
// an authenticated HTTP trigger, the wallet session verify endpoint, and a
// gRPC health server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/impactworks/impactstrike/internal/cycle"
	"github.com/impactworks/impactstrike/internal/ledger/eth"
	"github.com/impactworks/impactstrike/internal/platform/timeouts"
	"github.com/impactworks/impactstrike/internal/ratelimit"
	"github.com/impactworks/impactstrike/internal/session"
	cycledsqlite "github.com/impactworks/impactstrike/internal/services/cycled/storage/sqlite"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

// RuntimeConfig controls cycled startup and dependencies.
type RuntimeConfig struct {
	HTTPPort        int
	HealthPort      int
	RPCURL          string
	ContractAddress string
	PrivateKey      string
	ChainID         int64
	CronSecret      string
	TokenSecret     string
	TokenTTL        time.Duration
	PollInterval    time.Duration
	MaxWait         time.Duration
	RateLimit       int
	RateWindow      time.Duration
	DBPath          string
}

const (
	defaultHTTPPort   = 8091
	defaultHealthPort = 8092
	defaultCycledDB   = "data/cycled.db"
)

// writeTimeoutFor sizes the HTTP write timeout to the configured randomness
// poll bound plus headroom, so a longer MaxWait never cuts the trigger
// response mid-poll.
func writeTimeoutFor(maxWait time.Duration) time.Duration {
	if maxWait <= 0 {
		maxWait = cycle.DefaultMaxWait
	}
	return maxWait + timeouts.HTTPWriteHeadroom
}

// Run starts cycled runtime dependencies and serves until ctx is cancelled.
func Run(ctx context.Context, cfg RuntimeConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(cfg.CronSecret) == "" {
		return fmt.Errorf("cron secret is required")
	}
	if cfg.HTTPPort <= 0 {
		cfg.HTTPPort = defaultHTTPPort
	}
	if cfg.HealthPort <= 0 {
		cfg.HealthPort = defaultHealthPort
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = defaultCycledDB
	}

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create cycled storage dir: %w", err)
		}
	}

	store, err := cycledsqlite.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open cycled sqlite store: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			log.Printf("close cycled sqlite store: %v", closeErr)
		}
	}()

	gateway, err := eth.Dial(ctx, eth.Config{
		RPCURL:          cfg.RPCURL,
		ContractAddress: cfg.ContractAddress,
		PrivateKey:      cfg.PrivateKey,
		ChainID:         cfg.ChainID,
	})
	if err != nil {
		return fmt.Errorf("dial ledger: %w", err)
	}
	defer gateway.Close()

	orchestrator, err := cycle.New(gateway, cycle.Config{
		PollInterval: cfg.PollInterval,
		MaxWait:      cfg.MaxWait,
	})
	if err != nil {
		return fmt.Errorf("create orchestrator: %w", err)
	}

	minter, err := NewTokenMinter(cfg.TokenSecret, cfg.TokenTTL)
	if err != nil {
		return fmt.Errorf("create token minter: %w", err)
	}

	limiter := ratelimit.NewFixedWindow(cfg.RateLimit, cfg.RateWindow)
	go limiter.PruneLoop(ctx, ratelimit.DefaultPruneInterval)
	server := NewServer(
		orchestrator,
		session.NewVerifier(),
		limiter,
		minter,
		cfg.CronSecret,
		WithInvocationStore(store),
	)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      server.Handler(),
		ReadTimeout:  timeouts.HTTPRead,
		WriteTimeout: writeTimeoutFor(cfg.MaxWait),
	}

	healthListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.HealthPort))
	if err != nil {
		return fmt.Errorf("listen on health port %d: %w", cfg.HealthPort, err)
	}
	defer healthListener.Close()

	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus("cycled.runtime", grpc_health_v1.HealthCheckResponse_SERVING)

	grpcErr := make(chan error, 1)
	go func() {
		grpcErr <- grpcServer.Serve(healthListener)
	}()
	defer func() {
		healthServer.Shutdown()
		grpcServer.GracefulStop()
		<-grpcErr
	}()

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- httpServer.ListenAndServe()
	}()
	log.Printf("cycled server listening at %s", httpServer.Addr)

	select {
	case err := <-httpErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown http server: %v", err)
		}
		<-httpErr
		return nil
	}
}
