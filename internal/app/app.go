// Package app wires the connector's components together: token store,
// event queue, rate limiter, per-vendor orchestrators, the queue
// consumer, and the scheduled puller.
package app

import (
	"context"
	"sync"

	"wearable-connector/internal/common/httpclient"
	"wearable-connector/internal/common/logging"
	"wearable-connector/internal/config"
	"wearable-connector/internal/connector"
	"wearable-connector/internal/connector/garmin"
	"wearable-connector/internal/connector/whoop"
	"wearable-connector/internal/crypto"
	"wearable-connector/internal/handlers"
	"wearable-connector/internal/queue"
	"wearable-connector/internal/ratelimit"
	"wearable-connector/internal/tokens"
	"wearable-connector/internal/vendors"
	"wearable-connector/internal/webhooks"
)

// App holds all the application dependencies
type App struct {
	Config   *config.Config
	Store    tokens.Store
	Queue    queue.Queue
	Limiter  *ratelimit.Limiter
	Bases    map[vendors.VendorType]*connector.Base
	Consumer *connector.Consumer
	Puller   *connector.Puller
	Handlers *handlers.Handlers
	Logger   logging.Logger

	consumerCancel context.CancelFunc
	consumerDone   sync.WaitGroup
}

// New creates an application instance with all dependencies
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logging.GetGlobalLogger().WithFields(logging.Field{Key: "component", Value: "app"}),
	}

	encryptor, err := crypto.NewTokenEncryptor(cfg.EncryptionKey)
	if err != nil {
		return nil, err
	}

	app.Store, err = tokens.NewStore(ctx, cfg.StoreConfig(), encryptor)
	if err != nil {
		return nil, err
	}

	app.Queue, err = queue.New(ctx, cfg.QueueConfig())
	if err != nil {
		return nil, err
	}

	states, err := connector.NewStateManager(cfg.StateSecret)
	if err != nil {
		return nil, err
	}

	vendorConfigs := cfg.VendorConfigs()

	rateConfigs := make(map[vendors.VendorType]vendors.RateLimitConfig, len(vendorConfigs))
	for vendor, vc := range vendorConfigs {
		rateConfigs[vendor] = vc.RateLimit
	}
	app.Limiter = ratelimit.NewLimiter(rateConfigs)

	client := httpclient.NewClient()
	verifier := webhooks.NewVerifier()

	app.Bases = make(map[vendors.VendorType]*connector.Base, len(vendorConfigs))
	for vendor, vc := range vendorConfigs {
		var vendorConnector connector.VendorConnector
		switch vendor {
		case vendors.VendorWhoop:
			vendorConnector = whoop.New(vc, verifier, client)
		case vendors.VendorGarmin:
			vendorConnector = garmin.New(vc, verifier, client)
		default:
			continue
		}

		base, err := connector.NewBase(vendorConnector, vc, connector.Dependencies{
			TokenStore:  app.Store,
			RateLimiter: app.Limiter,
			Queue:       app.Queue,
			States:      states,
			HTTPClient:  client,
		})
		if err != nil {
			return nil, err
		}
		app.Bases[vendor] = base
	}

	if cfg.ConsumerEnabled {
		app.Consumer = connector.NewConsumer(app.Bases, app.Queue, connector.DefaultConsumerConfig(), nil)
	}

	pullerConfig := connector.DefaultPullerConfig()
	pullerConfig.Schedule = cfg.PullSchedule
	if !cfg.PullEnabled {
		pullerConfig.Schedule = ""
	}
	app.Puller = connector.NewPuller(app.Bases, pullerConfig, nil)

	app.Handlers = handlers.New(app.Bases, app.Puller, nil)

	return app, nil
}

// Start launches the background consumer and the pull scheduler
func (app *App) Start(ctx context.Context) error {
	if app.Consumer != nil {
		consumerCtx, cancel := context.WithCancel(context.Background())
		app.consumerCancel = cancel

		app.consumerDone.Add(1)
		go func() {
			defer app.consumerDone.Done()
			app.Consumer.Run(consumerCtx)
		}()
		app.Logger.Info("Queue consumer started")
	}

	if err := app.Puller.Start(ctx); err != nil {
		return err
	}

	return nil
}

// Shutdown stops background work and releases resources
func (app *App) Shutdown(ctx context.Context) error {
	app.Puller.Stop()

	if app.consumerCancel != nil {
		app.consumerCancel()
		app.consumerDone.Wait()
	}

	if err := app.Queue.Close(); err != nil {
		app.Logger.Warn("Failed to close queue",
			logging.Field{Key: "error", Value: err.Error()})
	}
	if err := app.Store.Close(); err != nil {
		app.Logger.Warn("Failed to close token store",
			logging.Field{Key: "error", Value: err.Error()})
	}

	return nil
}
