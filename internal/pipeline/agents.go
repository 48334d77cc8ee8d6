package pipeline

import (
	"fmt"
	"sort"

	"github.com/JakeFAU/site-audit/internal/audit"
)

// summarizeAgents checks that every scheduled agent left a terminal row and
// condenses the rows into an AgentSummary. Multiple rows for one agent are
// not expected; the last terminal one wins.
func summarizeAgents(runs []audit.AgentRun, scheduled []Phase) (audit.AgentSummary, error) {
	terminal := map[audit.AgentName]audit.AgentRun{}
	for _, r := range runs {
		if r.Status.Terminal() {
			terminal[r.Agent] = r
		}
	}

	summary := audit.AgentSummary{
		Counts: map[audit.AgentStatus]int{
			audit.AgentStatusCompleted: 0,
			audit.AgentStatusFailed:    0,
			audit.AgentStatusSkipped:   0,
		},
		Agents: []audit.AgentBrief{},
	}
	for _, p := range scheduled {
		if p.Agent == "" {
			continue
		}
		summary.Scheduled++
		run, ok := terminal[p.Agent]
		if !ok {
			return audit.AgentSummary{}, fmt.Errorf("agent %s has no terminal run", p.Agent)
		}
		summary.Counts[run.Status]++
		summary.Agents = append(summary.Agents, audit.AgentBrief{
			Agent:      run.Agent,
			Status:     run.Status,
			DurationMs: run.DurationMs,
			Error:      run.ErrorMessage,
		})
	}
	sort.Slice(summary.Agents, func(i, j int) bool { return summary.Agents[i].Agent < summary.Agents[j].Agent })
	return summary, nil
}
