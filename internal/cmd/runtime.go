package cmd

import (
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/forgehq/forge/internal/config"
	"github.com/forgehq/forge/internal/logging"
	"github.com/forgehq/forge/internal/session"
)

// runtime bundles the store wiring shared by commands that talk to live
// session state.
type runtime struct {
	cfg      *config.Config
	logger   *logging.Logger
	client   *redis.Client
	sessions *session.Manager
}

// newRuntime builds the session manager from the effective configuration.
func newRuntime() (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := logging.NewLogger(os.Stderr, cfg.Logging.Level)

	var client *redis.Client
	opts := []session.StoreOption{session.WithTTL(cfg.Session.SessionTTL())}
	driver := session.Driver(cfg.Session.Driver)
	if driver == session.DriverRedis {
		client = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		opts = append(opts, session.WithRedisClient(client))
	}

	store, err := session.NewStore(driver, opts...)
	if err != nil {
		return nil, err
	}

	return &runtime{
		cfg:      cfg,
		logger:   logger,
		client:   client,
		sessions: session.NewManager(store, logger, cfg.Session.SessionTTL()),
	}, nil
}

func (r *runtime) close() {
	if r.client != nil {
		_ = r.client.Close()
	}
}
