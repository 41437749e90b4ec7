package api

import (
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"dispo/internal/auth"
	"dispo/internal/config"
	"dispo/internal/store"
	"dispo/internal/webhooks"
)

type Server struct {
	Store     store.Store
	Pub       *webhooks.Publisher
	Auth      *auth.Verifier
	Broker    EventBroker
	Cfg       config.Config
	Log       zerolog.Logger
	Limiter   *rate.Limiter
	Locations *LocationCache
}

// NewServer wires the store, broker and auth verifier from config.
// Without databaseUrl the store is in-memory; without redisUrl the
// broker is in-process.
func NewServer(cfg config.Config, log zerolog.Logger) (*Server, error) {
	var s store.Store
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		s = store.NewMemory()
	} else {
		sp, err := store.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := sp.MigrateDir("db/migrations"); err != nil {
			return nil, err
		}
		s = sp
	}

	var broker EventBroker
	if cfg.RedisURL != "" {
		rb, err := NewRedisBroker(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		broker = rb
	} else {
		broker = NewBroker()
	}

	var limiter *rate.Limiter
	if cfg.Solver.OptimizeRatePerMin > 0 {
		burst := cfg.Solver.OptimizeBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.Solver.OptimizeRatePerMin)/60.0), burst)
	}

	return &Server{
		Store:     s,
		Pub:       webhooks.NewPublisher(s),
		Auth:      auth.NewVerifier(cfg.Auth.Mode, cfg.Auth.Secret, cfg.Auth.JWKSURL),
		Broker:    broker,
		Cfg:       cfg,
		Log:       log,
		Limiter:   limiter,
		Locations: NewLocationCache(),
	}, nil
}

// NewWebhookWorker creates the background delivery worker.
func (s *Server) NewWebhookWorker() *webhooks.Worker {
	return webhooks.NewWorker(s.Store,
		msToDuration(s.Cfg.Webhooks.PollIntervalMs),
		s.Cfg.Webhooks.BatchSize,
		s.Cfg.Webhooks.MaxAttempts)
}

func msToDuration(ms int) time.Duration { return time.Duration(ms) * time.Millisecond }
