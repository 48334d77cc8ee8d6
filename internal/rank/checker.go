// Package rank checks where a domain ranks for a list of keywords, pacing
// queries and stopping at a global deadline.
package rank

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/site-audit/internal/audit"
	"github.com/JakeFAU/site-audit/internal/metrics"
)

// MaxCompetitors bounds the non-matching listings kept per keyword.
const MaxCompetitors = 5

// Checker is the RankChecker.
type Checker struct {
	querier      audit.RankQueryService
	queryTimeout time.Duration
	logger       *zap.Logger
}

// NewChecker constructs a Checker. A zero queryTimeout leaves calls bounded
// only by the global deadline.
func NewChecker(querier audit.RankQueryService, queryTimeout time.Duration, logger *zap.Logger) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{querier: querier, queryTimeout: queryTimeout, logger: logger.Named("rank")}
}

// CheckAll queries keywords in order, resting delay after each query before
// the next one, until deadline. The result always has one entry per keyword
// in input order; keywords that failed or were never reached carry a nil
// Position.
func (c *Checker) CheckAll(
	ctx context.Context,
	domain string,
	keywords []string,
	location string,
	deadline time.Duration,
	delay time.Duration,
) []audit.RankResult {
	results := make([]audit.RankResult, len(keywords))
	for i, kw := range keywords {
		results[i] = audit.RankResult{Keyword: kw, Competitors: []audit.Competitor{}}
	}
	if len(keywords) == 0 {
		return results
	}

	if deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}

	for i, kw := range keywords {
		err := ctx.Err()
		if i > 0 {
			err = pause(ctx, delay)
		}
		if err != nil {
			c.logger.Info("rank deadline reached",
				zap.Int("checked", i),
				zap.Int("skipped", len(keywords)-i),
			)
			for range keywords[i:] {
				metrics.ObserveRankQuery("deadline")
			}
			break
		}
		results[i] = c.checkOne(ctx, domain, kw, location)
	}
	return results
}

// pause waits d from now. It fails at once when ctx is done or its deadline
// falls inside the pause, so no query starts that could not finish in time.
func pause(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	// A fresh single-token limiter with its token spent yields exactly one
	// interval of d measured from now.
	lim := rate.NewLimiter(rate.Every(d), 1)
	lim.Allow()
	if err := lim.Wait(ctx); err != nil {
		return fmt.Errorf("rank pause: %w", err)
	}
	return nil
}

func (c *Checker) checkOne(ctx context.Context, domain, keyword, location string) audit.RankResult {
	res := audit.RankResult{Keyword: keyword, Competitors: []audit.Competitor{}, Checked: true}

	qctx := ctx
	if c.queryTimeout > 0 {
		var cancel context.CancelFunc
		qctx, cancel = context.WithTimeout(ctx, c.queryTimeout)
		defer cancel()
	}
	serp, err := c.querier.Query(qctx, keyword, location)
	if err != nil {
		metrics.ObserveRankQuery("error")
		c.logger.Warn("rank query failed", zap.String("keyword", keyword), zap.Error(err))
		res.Error = audit.TruncateRunes(err.Error(), audit.MaxErrorRunes)
		return res
	}

	Classify(&res, domain, serp.OrganicListings)
	if res.Position != nil {
		metrics.ObserveRankQuery("ranked")
	} else {
		metrics.ObserveRankQuery("unranked")
	}
	return res
}

// Classify fills res from listings: the first listing served by domain (or
// its www variant) sets the position, and up to MaxCompetitors other
// listings are kept as competitors.
func Classify(res *audit.RankResult, domain string, listings []audit.OrganicListing) {
	for i, l := range listings {
		if l.URL == "" {
			continue
		}
		pos := l.Position
		if pos <= 0 {
			pos = i + 1
		}
		if res.Position == nil && audit.MatchesDomain(l.URL, domain) {
			p := pos
			res.Position = &p
			res.URL = l.URL
			continue
		}
		if audit.MatchesDomain(l.URL, domain) || len(res.Competitors) >= MaxCompetitors {
			continue
		}
		res.Competitors = append(res.Competitors, audit.Competitor{
			Domain:   audit.RegistrableDomain(l.URL),
			URL:      l.URL,
			Title:    l.Title,
			Position: pos,
		})
	}
}

// Describe renders a short human summary of one rank result.
func Describe(r audit.RankResult) string {
	switch {
	case r.Position != nil:
		return fmt.Sprintf("#%d", *r.Position)
	case !r.Checked:
		return "not checked"
	case r.Error != "":
		return "error"
	default:
		return "not ranking"
	}
}
