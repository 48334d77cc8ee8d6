package pipeline

import (
	"sync"

	"github.com/JakeFAU/site-audit/internal/audit"
	"github.com/JakeFAU/site-audit/internal/keywords"
	"github.com/JakeFAU/site-audit/internal/scoring"
)

// State carries one scan's identity and the outputs its phases published.
// Each output is written once by its phase and read by later phases, so
// readers always see a settled value.
type State struct {
	ScanID       string
	Domain       string
	Mode         audit.Mode
	LocationHint string

	mu          sync.RWMutex
	crawl       *audit.CrawlResult
	performance *audit.PerformanceResult
	keywords    *keywords.Result
	rankings    []audit.RankResult
	competitive *audit.CompetitiveResult
	aiReadiness *audit.AIReadinessResult
	agents      map[audit.AgentName]scoring.AgentState
}

// NewState seeds the state for one scan.
func NewState(scanID, domain string, mode audit.Mode, locationHint string) *State {
	return &State{
		ScanID:       scanID,
		Domain:       domain,
		Mode:         mode,
		LocationHint: locationHint,
		agents:       map[audit.AgentName]scoring.AgentState{},
	}
}

// Crawl returns the crawl output, or nil when the crawl produced nothing.
func (s *State) Crawl() *audit.CrawlResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.crawl
}

func (s *State) setCrawl(v audit.CrawlResult) {
	s.mu.Lock()
	s.crawl = &v
	s.mu.Unlock()
}

// Performance returns the performance output, or nil.
func (s *State) Performance() *audit.PerformanceResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.performance
}

func (s *State) setPerformance(v audit.PerformanceResult) {
	s.mu.Lock()
	s.performance = &v
	s.mu.Unlock()
}

// Keywords returns the derived services and keywords, or nil.
func (s *State) Keywords() *keywords.Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.keywords
}

func (s *State) setKeywords(v keywords.Result) {
	s.mu.Lock()
	s.keywords = &v
	s.mu.Unlock()
}

// Rankings returns a copy of the rank results.
func (s *State) Rankings() []audit.RankResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.rankings == nil {
		return nil
	}
	out := make([]audit.RankResult, len(s.rankings))
	copy(out, s.rankings)
	return out
}

func (s *State) setRankings(v []audit.RankResult) {
	s.mu.Lock()
	s.rankings = v
	s.mu.Unlock()
}

// Competitive returns the competitive output, or nil.
func (s *State) Competitive() *audit.CompetitiveResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.competitive
}

func (s *State) setCompetitive(v audit.CompetitiveResult) {
	s.mu.Lock()
	s.competitive = &v
	s.mu.Unlock()
}

// AIReadiness returns the AI readiness output, or nil.
func (s *State) AIReadiness() *audit.AIReadinessResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.aiReadiness
}

func (s *State) setAIReadiness(v audit.AIReadinessResult) {
	s.mu.Lock()
	s.aiReadiness = &v
	s.mu.Unlock()
}

// Agents returns how each scheduled agent settled so far.
func (s *State) Agents() map[audit.AgentName]scoring.AgentState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[audit.AgentName]scoring.AgentState, len(s.agents))
	for k, v := range s.agents {
		out[k] = v
	}
	return out
}

func (s *State) settle(agent audit.AgentName, status audit.AgentStatus, reason string) {
	s.mu.Lock()
	s.agents[agent] = scoring.AgentState{Status: status, Reason: reason}
	s.mu.Unlock()
}

// inputs snapshots the state for the aggregator.
func (s *State) inputs() scoring.Inputs {
	in := scoring.Inputs{
		ScanID:      s.ScanID,
		Domain:      s.Domain,
		Mode:        s.Mode,
		Crawl:       s.Crawl(),
		Performance: s.Performance(),
		Rankings:    s.Rankings(),
		Competitive: s.Competitive(),
		AIReadiness: s.AIReadiness(),
		Agents:      s.Agents(),
	}
	if kw := s.Keywords(); kw != nil {
		in.Services = kw.Services
		in.Keywords = kw.Keywords
		in.ServiceDetectionWarning = kw.Warning
	}
	return in
}
