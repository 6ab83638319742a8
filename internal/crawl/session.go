// Package crawl runs one search session: open the results page, scroll
// the feed until enough candidates are on screen, then walk the
// candidates through skip rules, store prechecks and detail enrichment.
package crawl

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/crashlens/leadcrawler/internal/leads"
	"github.com/crashlens/leadcrawler/internal/metrics"
	"github.com/crashlens/leadcrawler/internal/parser"
)

// Config wires a Session's collaborators.
type Config struct {
	Browser         leads.Browser
	Parser          *parser.Parser
	Detector        leads.Detector
	Store           leads.Store
	Enricher        leads.Enricher
	Limiter         leads.Limiter
	Logger          *zap.Logger
	MaxScrollRounds int
}

// Session executes crawl requests one at a time.
type Session struct {
	browser         leads.Browser
	parser          *parser.Parser
	detector        leads.Detector
	store           leads.Store
	enricher        leads.Enricher
	limiter         leads.Limiter
	logger          *zap.Logger
	maxScrollRounds int
}

// New builds a Session.
func New(cfg Config) *Session {
	if cfg.MaxScrollRounds <= 0 {
		cfg.MaxScrollRounds = 30
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Session{
		browser:         cfg.Browser,
		parser:          cfg.Parser,
		detector:        cfg.Detector,
		store:           cfg.Store,
		enricher:        cfg.Enricher,
		limiter:         cfg.Limiter,
		logger:          cfg.Logger,
		maxScrollRounds: cfg.MaxScrollRounds,
	}
}

// Run executes one crawl request and returns its terminal counters.
// A challenge on the search page itself aborts the whole session with
// leads.ErrBlocked so the dispatcher can retry with a fresh identity.
func (s *Session) Run(ctx context.Context, req leads.CrawlRequest) (leads.CrawlStats, error) {
	metrics.IncActiveSessions()
	defer metrics.DecActiveSessions()

	var stats leads.CrawlStats

	html, err := s.browser.OpenSearch(ctx, req.Query, req.Location)
	if err != nil {
		return stats, fmt.Errorf("open search: %w", err)
	}
	if s.detector.Blocked(html) {
		return stats, leads.ErrBlocked
	}

	candidates := s.collectCandidates(ctx, html, req.MaxResults)
	s.logger.Info("candidates collected",
		zap.String("query", req.Query),
		zap.String("location", req.Location),
		zap.Int("count", len(candidates)),
	)

	for i := range candidates {
		if stats.Candidates >= req.MaxResults {
			break
		}
		if err := ctx.Err(); err != nil {
			return stats, fmt.Errorf("session interrupted: %w", err)
		}
		if s.processCandidate(ctx, &candidates[i], req, &stats) {
			stats.Candidates++
			metrics.ObserveCandidate(candidates[i].SourceURL)
		}
		// Pause between candidates so persist-only paths do not fire
		// back-to-back in machine rhythm.
		if i == len(candidates)-1 || stats.Candidates >= req.MaxResults {
			continue
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return stats, fmt.Errorf("session interrupted: %w", err)
		}
	}

	return stats, nil
}

// collectCandidates scrolls the results feed until enough distinct
// cards are visible, no new cards appear, or the round budget runs out.
func (s *Session) collectCandidates(ctx context.Context, html string, want int) []leads.BusinessRecord {
	seen := make(map[string]struct{})
	var candidates []leads.BusinessRecord

	merge := func(records []leads.BusinessRecord) int {
		added := 0
		for _, rec := range records {
			key := rec.IdentityKey()
			if key == "" {
				key = rec.Name + "|" + rec.Address
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			candidates = append(candidates, rec)
			added++
		}
		return added
	}

	merge(s.parser.ParseCandidates(html))

	for round := 0; round < s.maxScrollRounds && len(candidates) < want; round++ {
		scrolled, err := s.browser.ScrollResults(ctx)
		if err != nil {
			s.logger.Warn("scroll failed", zap.Int("round", round), zap.Error(err))
			break
		}
		if s.detector.Blocked(scrolled) {
			s.logger.Warn("challenge appeared while scrolling", zap.Int("round", round))
			break
		}
		if merge(s.parser.ParseCandidates(scrolled)) == 0 {
			break
		}
	}
	return candidates
}

// processCandidate routes one card through the skip rules. It reports
// whether the candidate was persisted (directly or via enrichment).
func (s *Session) processCandidate(
	ctx context.Context,
	record *leads.BusinessRecord,
	req leads.CrawlRequest,
	stats *leads.CrawlStats,
) bool {
	record.LocationLabel = req.Location

	// A stored record that is already complete needs no refresh from a
	// card that cannot add anything.
	if key := record.IdentityKey(); key != "" {
		existing, found, err := s.store.FindByIdentity(ctx, key)
		if err != nil {
			s.logger.Warn("store precheck failed", zap.String("key", key), zap.Error(err))
		} else if found && existing.IsComplete() {
			s.logger.Debug("skipping complete stored record", zap.String("key", key))
			return false
		}
	}

	// Cards that already carry phone and website skip the detail visit.
	if record.IsComplete() {
		s.persist(ctx, *record, stats)
		return true
	}

	// Without a listing URL there is nothing to visit; keep what the
	// card gave us, keyed by phone.
	if record.SourceURL == "" {
		s.persist(ctx, *record, stats)
		return true
	}

	s.enricher.Enrich(ctx, record, stats)
	return true
}

func (s *Session) persist(ctx context.Context, record leads.BusinessRecord, stats *leads.CrawlStats) {
	outcome, err := s.store.Upsert(ctx, record)
	if err != nil && !errors.Is(err, leads.ErrNoIdentity) {
		s.logger.Error("persist business failed", zap.String("key", record.IdentityKey()), zap.Error(err))
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
