package plan

import "time"

// Phase is where a conversation stands in plan mode.
type Phase string

const (
	PhaseInactive  Phase = "inactive"
	PhasePlanning  Phase = "planning"
	PhaseReview    Phase = "review"
	PhaseExecuting Phase = "executing"
)

// State tracks plan mode for one conversation. It is not safe for
// concurrent use; the owner serialises access.
type State struct {
	Phase   Phase
	Current *Plan
}

// Active reports whether plan mode is on.
func (s *State) Active() bool { return s.Phase != "" && s.Phase != PhaseInactive }

// Begin starts planning toward goal with a fresh draft.
func (s *State) Begin(goal string, now time.Time) {
	s.Phase = PhasePlanning
	s.Current = New(goal, now)
}

// Review adopts a parsed plan, keeping the name and goal of the draft.
func (s *State) Review(parsed *Plan, now time.Time) {
	if s.Current != nil {
		parsed.Name = s.Current.Name
		parsed.Goal = s.Current.Goal
		parsed.CreatedAt = s.Current.CreatedAt
	}
	parsed.SetStatus(StatusReady, now)
	s.Current = parsed
	s.Phase = PhaseReview
}

// Load puts a stored plan up for review.
func (s *State) Load(p *Plan) {
	s.Current = p
	s.Phase = PhaseReview
}

// Execute marks the current plan as running.
func (s *State) Execute(now time.Time) {
	s.Phase = PhaseExecuting
	if s.Current != nil {
		s.Current.SetStatus(StatusExecuting, now)
	}
}

// Finish records how execution ended and leaves the plan in review so it
// can be saved or retried.
func (s *State) Finish(ok bool, now time.Time) {
	if s.Current == nil {
		s.Phase = PhaseInactive
		return
	}
	status := StatusFailed
	if ok {
		status = StatusCompleted
		for i := range s.Current.Steps {
			if s.Current.Steps[i].Status != StepSkipped {
				s.Current.Steps[i].Status = StepCompleted
			}
		}
	}
	s.Current.SetStatus(status, now)
	s.Phase = PhaseReview
}

// Exit leaves plan mode and drops the current plan.
func (s *State) Exit() {
	s.Phase = PhaseInactive
	s.Current = nil
}
