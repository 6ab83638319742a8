// Package enrich runs the detail-page enrichment loop for one
// candidate listing: visit, classify, merge, persist, with identity
// rotation and linear backoff between attempts.
package enrich

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/crashlens/leadcrawler/internal/leads"
	"github.com/crashlens/leadcrawler/internal/metrics"
	"github.com/crashlens/leadcrawler/internal/parser"
)

// Config wires the enrichment loop's collaborators.
type Config struct {
	Browser    leads.Browser
	Parser     *parser.Parser
	Detector   leads.Detector
	Limiter    leads.Limiter
	Rotator    leads.Rotator
	Store      leads.Store
	Logger     *zap.Logger
	MaxRetries int
	// UserAgent is the identity the browser launched with; it is kept
	// until a challenge forces a swap.
	UserAgent string
}

// Loop is the retrying enricher for detail pages.
type Loop struct {
	browser    leads.Browser
	parser     *parser.Parser
	detector   leads.Detector
	limiter    leads.Limiter
	rotator    leads.Rotator
	store      leads.Store
	logger     *zap.Logger
	maxRetries int
	currentUA  string
}

// New builds a Loop.
func New(cfg Config) *Loop {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Loop{
		browser:    cfg.Browser,
		parser:     cfg.Parser,
		detector:   cfg.Detector,
		limiter:    cfg.Limiter,
		rotator:    cfg.Rotator,
		store:      cfg.Store,
		logger:     cfg.Logger,
		maxRetries: cfg.MaxRetries,
		currentUA:  cfg.UserAgent,
	}
}

// Enrich visits the candidate's detail page with up to MaxRetries
// attempts, merging extracted fields into record. The terminal state is
// always persisted: the merged record on success, the bare card record
// when every attempt failed. Identity rotates between attempts; a
// challenge swaps both proxy and user agent, other failures swap the
// proxy only.
func (l *Loop) Enrich(ctx context.Context, record *leads.BusinessRecord, stats *leads.CrawlStats) leads.AttemptOutcome {
	for attempt := 1; attempt <= l.maxRetries; attempt++ {
		if err := l.limiter.Wait(ctx); err != nil {
			l.logger.Warn("enrichment interrupted", zap.String("url", record.SourceURL), zap.Error(err))
			break
		}

		stats.DetailAttempts++
		outcome := l.attempt(ctx, record)
		metrics.ObserveDetailAttempt(string(outcome))

		switch outcome {
		case leads.OutcomeSuccess:
			stats.DetailSuccesses++
			l.persist(ctx, *record, stats)
			return leads.OutcomeSuccess
		case leads.OutcomeCaptchaDetected:
			stats.CaptchaDetections++
			metrics.ObserveCaptcha()
		}

		l.logger.Info("detail attempt failed",
			zap.String("url", record.SourceURL),
			zap.Int("attempt", attempt),
			zap.String("outcome", string(outcome)),
		)

		// Rotate and back off only when another attempt follows.
		if attempt < l.maxRetries {
			l.rotate(ctx, outcome == leads.OutcomeCaptchaDetected)
			if err := l.limiter.Backoff(ctx, attempt); err != nil {
				l.logger.Warn("backoff interrupted", zap.Error(err))
				break
			}
		}
	}

	stats.DetailFailures++
	l.persist(ctx, *record, stats)
	return leads.OutcomeFailed
}

// attempt performs one detail-page visit and classifies the result.
func (l *Loop) attempt(ctx context.Context, record *leads.BusinessRecord) leads.AttemptOutcome {
	html, err := l.browser.DetailHTML(ctx, record.SourceURL)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return leads.OutcomeTimeout
		}
		return leads.OutcomeOtherError
	}
	if l.detector.Blocked(html) {
		return leads.OutcomeCaptchaDetected
	}
	record.MergeDetail(l.parser.ParseDetail(html))
	return leads.OutcomeSuccess
}

func (l *Loop) rotate(ctx context.Context, challenged bool) {
	proxy := l.rotator.NextProxy()
	userAgent := l.currentUA
	if challenged {
		userAgent = l.rotator.NextUserAgent()
		l.currentUA = userAgent
	}
	if err := l.browser.Restart(ctx, proxy, userAgent); err != nil {
		l.logger.Warn("browser restart failed", zap.Error(err))
	}
}

func (l *Loop) persist(ctx context.Context, record leads.BusinessRecord, stats *leads.CrawlStats) {
	outcome, err := l.store.Upsert(ctx, record)
	if err != nil && !errors.Is(err, leads.ErrNoIdentity) {
		l.logger.Error("persist business failed", zap.String("url", record.SourceURL), zap.Error(err))
	}
	metrics.ObserveUpsert(string(outcome))
	switch outcome {
	case leads.UpsertInserted:
		stats.Inserted++
	case leads.UpsertUpdated:
		stats.Updated++
	case leads.UpsertDropped:
		stats.Dropped++
	}
}
