package agent

import (
	"context"
	"strings"
	"time"

	"github.com/cexll/agentcore/pkg/core/failure"
	"github.com/cexll/agentcore/pkg/event"
	"github.com/cexll/agentcore/pkg/plan"
)

// PlanState returns the plan phase and a copy of the current plan.
func (s *Session) PlanState() (plan.Phase, *plan.Plan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	phase := s.plan.Phase
	if phase == "" {
		phase = plan.PhaseInactive
	}
	return phase, s.plan.Current.Clone()
}

// BeginPlan enters plan mode toward goal. The next prompt starts a fresh
// conversation limited to the read-only tools.
func (s *Session) BeginPlan(goal string) error {
	goal = strings.TrimSpace(goal)
	if goal == "" {
		return failure.New(failure.KindInvalidArgument, "plan goal is empty")
	}
	s.mu.Lock()
	s.plan.Begin(goal, time.Now())
	s.top = nil
	data := planData(s.plan.Current)
	s.mu.Unlock()
	s.recorder.Record(event.PlanStatus, data)
	return nil
}

// LoadPlan puts a stored plan up for review.
func (s *Session) LoadPlan(p *plan.Plan) {
	if p == nil {
		return
	}
	s.mu.Lock()
	if s.plan.Phase == plan.PhasePlanning {
		s.top = nil
	}
	s.plan.Load(p.Clone())
	s.mu.Unlock()
}

// ExitPlan leaves plan mode and drops the current plan.
func (s *Session) ExitPlan() {
	s.mu.Lock()
	if s.plan.Phase == plan.PhasePlanning {
		s.top = nil
	}
	s.plan.Exit()
	s.mu.Unlock()
}

// ExecutePlan hands the reviewed plan to a fresh conversation with the full
// tool set and records whether it completed.
func (s *Session) ExecutePlan(ctx context.Context) (*Outcome, error) {
	s.mu.Lock()
	switch {
	case s.plan.Current == nil:
		s.mu.Unlock()
		return nil, failure.New(failure.KindNotFound, "no plan to execute")
	case s.plan.Phase == plan.PhasePlanning:
		s.mu.Unlock()
		return nil, failure.New(failure.KindInvalidArgument, "plan %q has no steps yet", s.plan.Current.Name)
	}
	s.plan.Execute(time.Now())
	s.top = nil
	prompt := s.plan.Current.ExecutionPrompt()
	data := planData(s.plan.Current)
	s.mu.Unlock()
	s.recorder.Record(event.PlanStatus, data)

	out, err := s.Run(ctx, prompt)

	s.mu.Lock()
	if s.plan.Phase == plan.PhaseExecuting {
		s.plan.Finish(out != nil && out.OK(), time.Now())
	}
	data = planData(s.plan.Current)
	s.mu.Unlock()
	s.recorder.Record(event.PlanStatus, data)
	return out, err
}

// adoptPlan moves a draft to review when the planning conversation l
// replied with a parseable plan.
func (s *Session) adoptPlan(l *Loop, text string) {
	s.mu.Lock()
	if s.plan.Phase != plan.PhasePlanning || s.top != l || s.plan.Current == nil {
		s.mu.Unlock()
		return
	}
	now := time.Now()
	parsed, err := plan.Parse(text, s.plan.Current.Goal, now)
	if err != nil {
		s.mu.Unlock()
		s.logger.Debug("reply holds no plan yet", "session_id", s.opts.SessionID, "error", err)
		return
	}
	s.plan.Review(parsed, now)
	s.top = nil
	data := planData(s.plan.Current)
	s.mu.Unlock()
	s.recorder.Record(event.PlanCreated, data)
}

func planData(p *plan.Plan) event.PlanData {
	if p == nil {
		return event.PlanData{Status: string(plan.PhaseInactive)}
	}
	return event.PlanData{Name: p.Name, Goal: p.Goal, Steps: len(p.Steps), Status: string(p.Status)}
}

func joinPrompt(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n\n")
}
