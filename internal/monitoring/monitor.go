// Package monitoring runs the two background loops: the health monitor and
// the rediscovery cycle. Both are cancellable and log-and-continue on
// per-cycle errors.
package monitoring

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cortex-ops/cortex/internal/knowledge"
	"github.com/cortex-ops/cortex/internal/metrics"
)

const startupDelay = 30 * time.Second

// HealthChecker pings a service's health endpoint.
type HealthChecker interface {
	CheckHealth(ctx context.Context, service string) bool
}

// Investigator runs a diagnosis for a service.
type Investigator interface {
	Diagnose(ctx context.Context, service, trigger string) (*knowledge.Incident, error)
}

// Discoverer runs one discovery cycle.
type Discoverer interface {
	Run(ctx context.Context) error
}

// IncidentSink receives completed incidents for fan-out.
type IncidentSink interface {
	SendIncident(ctx context.Context, incident *knowledge.Incident)
}

// Scheduler owns the background loops.
type Scheduler struct {
	store        *knowledge.Store
	health       HealthChecker
	investigator Investigator
	discoverer   Discoverer
	notifier     IncidentSink

	monitorInterval   time.Duration
	discoveryInterval time.Duration
	startupDelay      time.Duration
}

// New creates a scheduler with the default 30 second startup delay.
func New(store *knowledge.Store, health HealthChecker, investigator Investigator, discoverer Discoverer, notifier IncidentSink, monitorInterval, discoveryInterval time.Duration) *Scheduler {
	return &Scheduler{
		store:             store,
		health:            health,
		investigator:      investigator,
		discoverer:        discoverer,
		notifier:          notifier,
		monitorInterval:   monitorInterval,
		discoveryInterval: discoveryInterval,
		startupDelay:      startupDelay,
	}
}

// SetStartupDelay overrides the monitor loop's initial delay, used by tests.
func (s *Scheduler) SetStartupDelay(d time.Duration) {
	s.startupDelay = d
}

// MonitorLoop checks every non-datastore service's health each interval and
// investigates failures. Checks run one service at a time. Blocks until ctx
// is cancelled.
func (s *Scheduler) MonitorLoop(ctx context.Context) error {
	if err := sleep(ctx, s.startupDelay); err != nil {
		return err
	}

	for {
		s.checkAll(ctx)
		if err := sleep(ctx, s.monitorInterval); err != nil {
			return err
		}
	}
}

func (s *Scheduler) checkAll(ctx context.Context) {
	services, err := s.store.ListServices()
	if err != nil {
		log.Error().Err(err).Msg("Monitor loop failed to list services")
		return
	}

	for _, svc := range services {
		if ctx.Err() != nil {
			return
		}
		// Databases and caches have no HTTP surface to check.
		if svc.Type == "database" || svc.Type == "cache" {
			continue
		}

		healthy := s.health.CheckHealth(ctx, svc.Name)
		if healthy {
			metrics.HealthChecksTotal.WithLabelValues("healthy").Inc()
			continue
		}
		metrics.HealthChecksTotal.WithLabelValues("unhealthy").Inc()

		if svc.HealthURL == "" {
			continue
		}

		log.Warn().Str("service", svc.Name).Msg("Service unhealthy")
		s.store.LogEvent("health_check_failed", svc.Name+" is unhealthy", svc.Name, nil)
		s.store.SetServiceStatus(svc.Name, "unhealthy")

		incident, err := s.investigator.Diagnose(ctx, svc.Name, "Health check failed for "+svc.Name)
		if err != nil {
			log.Error().Err(err).Str("service", svc.Name).Msg("Investigation failed")
			continue
		}
		if s.notifier != nil {
			s.notifier.SendIncident(ctx, incident)
		}
	}
}

// DiscoveryLoop reruns discovery every interval. The first run happens after
// one full interval; startup discovery is dispatched separately so readiness
// does not wait on it. Blocks until ctx is cancelled.
func (s *Scheduler) DiscoveryLoop(ctx context.Context) error {
	for {
		if err := sleep(ctx, s.discoveryInterval); err != nil {
			return err
		}
		log.Info().Msg("Scheduled rediscovery")
		if err := s.discoverer.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Scheduled discovery failed")
		}
	}
}

// InitialDiscovery runs the startup discovery pass, logging failures rather
// than propagating them.
func (s *Scheduler) InitialDiscovery(ctx context.Context) {
	if err := s.discoverer.Run(ctx); err != nil {
		log.Error().Err(err).Msg("Initial discovery failed")
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
