// Package pipeline orchestrates the background processing of one inbound
// lead: enrichment, persistence, and notification, with correlation-tracked
// status and dead-letter capture.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jonesrussell/leadflow/internal/circuitbreaker"
	"github.com/jonesrussell/leadflow/internal/dlq"
	"github.com/jonesrussell/leadflow/internal/domain"
	"github.com/jonesrussell/leadflow/internal/logger"
	"github.com/jonesrussell/leadflow/internal/retry"
	"github.com/jonesrussell/leadflow/internal/status"
	"github.com/jonesrussell/leadflow/internal/telemetry"
)

// DefaultIndustry is the documented fallback when company analysis fails
const DefaultIndustry = "Unknown"

// jobContext labels tracker entries created by webhook ingestion
const jobContext = "webhook ingestion"

// Enricher is the company-analysis collaborator
type Enricher interface {
	Analyze(ctx context.Context, companyDomain, companyName string) (*domain.CompanyProfile, error)
}

// CampaignDirectory is the campaign-lookup collaborator.
// A nil campaign with nil error means no campaign matched.
type CampaignDirectory interface {
	Lookup(ctx context.Context, email string) (*domain.Campaign, error)
}

// LeadStore is the persistence collaborator
type LeadStore interface {
	Create(ctx context.Context, lead *domain.Lead) (*domain.Lead, error)
}

// Notifier is the sales-channel notification collaborator
type Notifier interface {
	Notify(ctx context.Context, lead *domain.Lead, profile *domain.CompanyProfile) error
}

// Config holds pipeline tuning knobs
type Config struct {
	Retry               retry.Config
	BreakerThreshold    int
	BreakerResetTimeout time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Retry:               retry.DefaultConfig(),
		BreakerThreshold:    5,
		BreakerResetTimeout: 60 * time.Second,
	}
}

// Pipeline runs one detached goroutine per queued payload. Instances share
// only the tracker and the dead-letter queue, both of which are safe for
// concurrent use.
type Pipeline struct {
	enricher  Enricher
	campaigns CampaignDirectory
	store     LeadStore
	notifier  Notifier

	tracker   *status.Tracker
	deadQueue *dlq.Queue

	retryCfg retry.Config
	breakers map[string]*circuitbreaker.Breaker

	telemetry *telemetry.Provider
	logger    logger.Logger
	wg        sync.WaitGroup
}

// New creates a pipeline. One circuit breaker is held per downstream
// dependency so a bad enrichment API cannot trip the persistence path.
func New(
	enricher Enricher,
	campaigns CampaignDirectory,
	store LeadStore,
	notifier Notifier,
	tracker *status.Tracker,
	deadQueue *dlq.Queue,
	cfg Config,
	tel *telemetry.Provider,
	log logger.Logger,
) *Pipeline {
	p := &Pipeline{
		enricher:  enricher,
		campaigns: campaigns,
		store:     store,
		notifier:  notifier,
		tracker:   tracker,
		deadQueue: deadQueue,
		retryCfg:  cfg.Retry,
		breakers:  make(map[string]*circuitbreaker.Breaker),
		telemetry: tel,
		logger:    log,
	}

	for _, dep := range []string{"company_analysis", "campaign_lookup", "persistence", "notification"} {
		p.breakers[dep] = circuitbreaker.New(circuitbreaker.Config{
			Name:             dep,
			FailureThreshold: cfg.BreakerThreshold,
			ResetTimeout:     cfg.BreakerResetTimeout,
			OnStateChange: func(name string, from, to circuitbreaker.State) {
				log.Warn("circuit breaker state change",
					logger.String("dependency", name),
					logger.String("from", from.String()),
					logger.String("to", to.String()))
				tel.Metrics.ObserveBreaker(name, to)
			},
		})
	}

	return p
}

// Queue accepts a payload for background processing and returns immediately.
// The returned correlation id is the handle for polling GetStatus; a blank
// correlationID gets one generated. Errors never escape synchronously -
// anything thrown inside the job lands in the tracker and the logs.
func (p *Pipeline) Queue(payload domain.LeadPayload, correlationID string) string {
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	p.tracker.Create(correlationID, jobContext)
	p.telemetry.Metrics.JobsQueued.Inc()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			// Nothing awaits this goroutine; a panic here must not take
			// down the process or strand the job in a non-terminal state
			if r := recover(); r != nil {
				p.logger.Error("pipeline panic recovered",
					logger.String("correlation_id", correlationID),
					logger.Any("panic", r))
				p.tracker.Fail(correlationID, fmt.Sprintf("internal error: %v", r), 0)
			}
		}()
		p.run(payload, correlationID)
	}()

	return correlationID
}

// GetStatus returns the tracked job for a correlation id
func (p *Pipeline) GetStatus(correlationID string) (domain.ProcessingJob, bool) {
	return p.tracker.Get(correlationID)
}

// ListStatuses returns every resident job (privileged at the API boundary)
func (p *Pipeline) ListStatuses() []domain.ProcessingJob {
	return p.tracker.GetAll()
}

// BreakerStats returns a snapshot of every dependency breaker
func (p *Pipeline) BreakerStats() []circuitbreaker.Stats {
	out := make([]circuitbreaker.Stats, 0, len(p.breakers))
	for _, b := range p.breakers {
		out = append(out, b.GetStats())
	}
	return out
}

// ResetBreaker is the operational override for a known-recovered dependency
func (p *Pipeline) ResetBreaker(name string) bool {
	b, ok := p.breakers[name]
	if !ok {
		return false
	}
	b.Reset()
	return true
}

// Wait blocks until all in-flight jobs reach a terminal state.
// Used by graceful shutdown and tests.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// run executes one job to a terminal state. Jobs are detached from their
// inbound request, so processing uses a background context; there is no
// external cancellation once a job is queued.
func (p *Pipeline) run(payload domain.LeadPayload, correlationID string) {
	ctx, span := p.telemetry.Tracer.Start(context.Background(), "pipeline.process",
		trace.WithAttributes(
			attribute.String("correlation_id", correlationID),
			attribute.String("company", payload.Company),
		))
	defer span.End()

	start := time.Now()
	log := p.logger.With(logger.String("correlation_id", correlationID))

	p.tracker.StartProcessing(correlationID)

	// Both enrichment branches resolve (or default) before persistence.
	// Each has its own fallback so one failing cannot suppress the other.
	profile, campaign := p.enrich(ctx, payload, log)

	lead := buildLead(payload, profile, campaign)

	stored, err := p.persist(ctx, lead)
	if err != nil {
		elapsed := time.Since(start)
		log.Error("lead persistence failed, job dead-lettered",
			logger.Error(err),
			logger.Duration("elapsed", elapsed))

		p.captureDeadLetter(domain.EventTypeWebhookIngestion, payload, err, correlationID)
		p.tracker.Fail(correlationID, err.Error(), elapsed)
		p.telemetry.Metrics.JobsFailed.Inc()
		return
	}

	p.notify(ctx, stored, profile, correlationID, log)

	elapsed := time.Since(start)
	p.tracker.Complete(correlationID, domain.JobResult{
		LeadID:     stored.ID,
		Industry:   profile.Industry,
		Confidence: profile.Confidence,
		Duration:   elapsed,
	})
	p.telemetry.Metrics.JobsCompleted.Inc()
	p.telemetry.Metrics.JobDuration.Observe(elapsed.Seconds())

	log.Info("lead processed",
		logger.String("lead_id", stored.ID),
		logger.String("industry", profile.Industry),
		logger.Duration("elapsed", elapsed))
}

// enrich fans out the two enrichment calls and joins them. Enrichment is
// non-critical: each branch degrades to its documented default and is never
// dead-lettered.
func (p *Pipeline) enrich(ctx context.Context, payload domain.LeadPayload, log logger.Logger) (*domain.CompanyProfile, *domain.Campaign) {
	var (
		wg       sync.WaitGroup
		profile  *domain.CompanyProfile
		campaign *domain.Campaign
	)

	wg.Add(2)

	go func() {
		defer wg.Done()
		var result *domain.CompanyProfile
		err := p.callThrough(ctx, "company_analysis", func() error {
			var callErr error
			result, callErr = p.enricher.Analyze(ctx, payload.Domain, payload.Company)
			return callErr
		})
		if err != nil {
			log.Warn("company analysis failed, using default industry",
				logger.Error(err))
			p.telemetry.Metrics.EnrichmentFallbacks.WithLabelValues("company_analysis").Inc()
		}
		if result == nil {
			// An enricher may report no match without an error
			result = &domain.CompanyProfile{Industry: DefaultIndustry}
		}
		profile = result
	}()

	go func() {
		defer wg.Done()
		var result *domain.Campaign
		err := p.callThrough(ctx, "campaign_lookup", func() error {
			var callErr error
			result, callErr = p.campaigns.Lookup(ctx, payload.Email)
			return callErr
		})
		if err != nil {
			log.Warn("campaign lookup failed, continuing without campaign",
				logger.Error(err))
			p.telemetry.Metrics.EnrichmentFallbacks.WithLabelValues("campaign_lookup").Inc()
			result = nil
		}
		campaign = result
	}()

	wg.Wait()
	return profile, campaign
}

// persist is the critical step: its failure ends the job
func (p *Pipeline) persist(ctx context.Context, lead *domain.Lead) (*domain.Lead, error) {
	var stored *domain.Lead
	err := p.callThrough(ctx, "persistence", func() error {
		var callErr error
		stored, callErr = p.store.Create(ctx, lead)
		return callErr
	})
	return stored, err
}

// notify is non-critical: a failed notification is logged and dead-lettered
// for later re-send, and the job still completes
func (p *Pipeline) notify(ctx context.Context, lead *domain.Lead, profile *domain.CompanyProfile, correlationID string, log logger.Logger) {
	err := p.callThrough(ctx, "notification", func() error {
		return p.notifier.Notify(ctx, lead, profile)
	})
	if err == nil {
		return
	}

	log.Warn("sales notification failed, job completes anyway",
		logger.String("lead_id", lead.ID),
		logger.Error(err))
	p.captureDeadLetter(domain.EventTypeOutboundNotification, lead, err, correlationID)
}

// Replay re-executes a dead-lettered input synchronously and reports the
// outcome to the caller. Replay never writes back to the dead-letter queue;
// the replay driver owns retry bookkeeping.
func (p *Pipeline) Replay(ctx context.Context, event domain.DeadLetterEvent) error {
	log := p.logger.With(
		logger.String("dead_letter_id", event.ID),
		logger.String("event_type", string(event.Type)))

	switch event.Type {
	case domain.EventTypeWebhookIngestion:
		var payload domain.LeadPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal dead-lettered payload: %w", err)
		}

		profile, campaign := p.enrich(ctx, payload, log)
		stored, err := p.persist(ctx, buildLead(payload, profile, campaign))
		if err != nil {
			return err
		}

		if notifyErr := p.callThrough(ctx, "notification", func() error {
			return p.notifier.Notify(ctx, stored, profile)
		}); notifyErr != nil {
			log.Warn("notification failed during replay", logger.Error(notifyErr))
		}
		return nil

	case domain.EventTypeOutboundNotification:
		var lead domain.Lead
		if err := json.Unmarshal(event.Payload, &lead); err != nil {
			return fmt.Errorf("unmarshal dead-lettered lead: %w", err)
		}

		profile := &domain.CompanyProfile{
			Industry:     lead.Industry,
			TalkingPoint: lead.TalkingPoint,
			Website:      lead.Website,
			Capital:      lead.Capital,
			Sector:       lead.Sector,
			Confidence:   lead.Confidence,
		}
		return p.callThrough(ctx, "notification", func() error {
			return p.notifier.Notify(ctx, &lead, profile)
		})

	default:
		return fmt.Errorf("unknown dead-letter event type %q", event.Type)
	}
}

// callThrough issues one collaborator call through its circuit breaker,
// wrapped in retry so transient failures are absorbed before the
// critical/non-critical policy applies. A rejected (open) breaker is not a
// transient signature, so it fails fast instead of burning retry attempts.
func (p *Pipeline) callThrough(ctx context.Context, dependency string, fn func() error) error {
	breaker := p.breakers[dependency]
	cfg := p.retryCfg
	cfg.OnRetry = func(attempt int, err error) {
		p.telemetry.Metrics.RetryAttempts.WithLabelValues(dependency).Inc()
		p.logger.Debug("retrying collaborator call",
			logger.String("dependency", dependency),
			logger.Int("attempt", attempt),
			logger.Error(err))
	}

	return retry.Do(ctx, cfg, func() error {
		return breaker.Execute(fn)
	})
}

// captureDeadLetter snapshots the failed input for replay. The marshalled
// payload is the original input to the failed step, never a derived record.
func (p *Pipeline) captureDeadLetter(eventType domain.EventType, payload any, cause error, correlationID string) {
	raw, err := json.Marshal(payload)
	if err != nil {
		p.logger.Error("failed to marshal dead-letter payload",
			logger.String("correlation_id", correlationID),
			logger.Error(err))
		raw = []byte("{}")
	}

	p.deadQueue.Add(eventType, raw,
		domain.DeadLetterError{Message: cause.Error()},
		correlationID)
	p.telemetry.Metrics.DLQEnqueued.WithLabelValues(string(eventType)).Inc()
	p.telemetry.Metrics.DLQDepth.Set(float64(p.deadQueue.GetStats().Total))
}

// buildLead constructs the lead record from the original payload plus
// whatever enrichment succeeded
func buildLead(payload domain.LeadPayload, profile *domain.CompanyProfile, campaign *domain.Campaign) *domain.Lead {
	lead := &domain.Lead{
		Status:       domain.LeadStatusNew,
		Email:        payload.Email,
		FirstName:    payload.FirstName,
		LastName:     payload.LastName,
		Company:      payload.Company,
		Domain:       payload.Domain,
		Phone:        payload.Phone,
		Source:       payload.Source,
		Industry:     profile.Industry,
		TalkingPoint: profile.TalkingPoint,
		Website:      profile.Website,
		Capital:      profile.Capital,
		Sector:       profile.Sector,
		Confidence:   profile.Confidence,
	}
	if campaign != nil {
		lead.CampaignID = &campaign.CampaignID
		lead.CampaignName = &campaign.CampaignName
	}
	return lead
}
