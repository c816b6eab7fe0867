// Package session owns the step state machine that sequences the reading
// experience and composes the registration and chat sub-flows.
package session

import "encoding/json"

// Step is a discrete screen in the session state machine.
type Step int

const (
	StepLanding Step = iota
	StepOnboarding
	StepReveal
	StepInterpretation
	StepUpsellModal
	StepExploreModal
)

func (s Step) String() string {
	switch s {
	case StepLanding:
		return "landing"
	case StepOnboarding:
		return "onboarding"
	case StepReveal:
		return "reveal"
	case StepInterpretation:
		return "interpretation"
	case StepUpsellModal:
		return "upsell_modal"
	case StepExploreModal:
		return "explore_modal"
	}
	return "unknown"
}

// MarshalJSON emits the step name so the view never deals with ordinals.
func (s Step) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// IsModal reports whether the step is an overlay whose Close must restore
// the step it was entered from exactly.
func (s Step) IsModal() bool {
	return s == StepUpsellModal || s == StepExploreModal
}
