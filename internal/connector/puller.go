package connector

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"wearable-connector/internal/common/errors"
	"wearable-connector/internal/common/logging"
	"wearable-connector/internal/vendors"
)

// FirstSyncLookback bounds how far back the initial pull reaches when a
// user has no recorded last_pull.
const FirstSyncLookback = 7 * 24 * time.Hour

// PullerConfig tunes the scheduled pull job
type PullerConfig struct {
	// Schedule is a cron expression; empty disables scheduled pulls
	Schedule string
	// ResourceTypes overrides what gets fetched per user on each pull.
	// Empty means each vendor's own default resource list.
	ResourceTypes []string
}

// DefaultPullerConfig pulls each vendor's default resources hourly
func DefaultPullerConfig() PullerConfig {
	return PullerConfig{
		Schedule: "@hourly",
	}
}

// Puller runs scheduled catch-up pulls for every connected user. Webhooks
// are the primary data path; the puller covers missed deliveries and
// vendors without webhook support for a resource.
type Puller struct {
	bases  map[vendors.VendorType]*Base
	config PullerConfig
	logger logging.Logger
	cron   *cron.Cron
	now    func() time.Time
}

// NewPuller creates a pull scheduler over the given orchestrators
func NewPuller(bases map[vendors.VendorType]*Base, config PullerConfig, logger logging.Logger) *Puller {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Puller{
		bases:  bases,
		config: config,
		logger: logger,
		cron:   cron.New(),
		now:    time.Now,
	}
}

// Start registers the cron schedule and begins running pulls
func (p *Puller) Start(ctx context.Context) error {
	if p.config.Schedule == "" {
		p.logger.Info("Scheduled pulls disabled")
		return nil
	}

	_, err := p.cron.AddFunc(p.config.Schedule, func() {
		p.PullAll(ctx)
	})
	if err != nil {
		return errors.ConfigError("invalid pull schedule: " + p.config.Schedule)
	}

	p.cron.Start()
	p.logger.Info("Pull scheduler started",
		logging.Field{Key: "schedule", Value: p.config.Schedule},
	)
	return nil
}

// Stop halts the scheduler and waits for a running pull to finish
func (p *Puller) Stop() {
	stopCtx := p.cron.Stop()
	<-stopCtx.Done()
}

// PullAll runs a catch-up pull for every connected user of every vendor.
// One user's failure never aborts the sweep.
func (p *Puller) PullAll(ctx context.Context) {
	for vendor, base := range p.bases {
		users, err := base.store.ListUsers(ctx, vendor)
		if err != nil {
			p.logger.Error("Failed to list users for pull", err,
				logging.Field{Key: "vendor", Value: vendor.String()},
			)
			continue
		}

		for _, userID := range users {
			if ctx.Err() != nil {
				return
			}
			if err := p.PullUser(ctx, vendor, userID); err != nil {
				p.logger.Warn("Scheduled pull failed",
					logging.Field{Key: "vendor", Value: vendor.String()},
					logging.Field{Key: "user_id", Value: userID},
					logging.Field{Key: "error", Value: err.Error()},
				)
			}
		}
	}
}

// PullUser fetches the vendor's resource types (or the configured
// override) for one user, covering the window since their last pull.
// First-time syncs reach back FirstSyncLookback.
func (p *Puller) PullUser(ctx context.Context, vendor vendors.VendorType, userID string) error {
	base, ok := p.bases[vendor]
	if !ok {
		return errors.ConfigError("no connector registered for vendor " + vendor.String())
	}

	token, err := base.store.Get(ctx, vendor, userID)
	if err != nil {
		return err
	}

	end := p.now()
	start := end.Add(-FirstSyncLookback)
	if token.LastPull != nil {
		start = *token.LastPull
	}

	resourceTypes := p.config.ResourceTypes
	if len(resourceTypes) == 0 {
		resourceTypes = base.DefaultResources()
	}

	params := FetchParams{Start: start, End: end}
	var firstErr error
	for _, resourceType := range resourceTypes {
		if _, err := base.FetchData(ctx, userID, resourceType, "", params); err != nil {
			if errors.IsType(err, errors.ErrTypeRateLimit) {
				// stop burning this user's remaining quota
				return err
			}
			if firstErr == nil {
				firstErr = err
			}
			p.logger.Warn("Pull fetch failed",
				logging.Field{Key: "vendor", Value: vendor.String()},
				logging.Field{Key: "user_id", Value: userID},
				logging.Field{Key: "resource_type", Value: resourceType},
				logging.Field{Key: "error", Value: err.Error()},
			)
		}
	}
	return firstErr
}
