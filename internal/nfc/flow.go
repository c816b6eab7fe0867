// Package nfc implements the poster-code registration sub-flow: a verify
// phase followed by a three-step form, layered on the backend client.
package nfc

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/arcanaday/arcana-session/internal/backend"
	"github.com/arcanaday/arcana-session/internal/domain"
	"github.com/arcanaday/arcana-session/internal/liveness"
)

// State is the registration flow state.
type State int

const (
	StateAwaitingCode State = iota
	StateVerifying
	StateForm
	StateSubmitting
	StateSuccess
	StateFailure
)

func (s State) String() string {
	switch s {
	case StateAwaitingCode:
		return "awaiting_code"
	case StateVerifying:
		return "verifying"
	case StateForm:
		return "form"
	case StateSubmitting:
		return "submitting"
	case StateSuccess:
		return "success"
	case StateFailure:
		return "failure"
	}
	return "unknown"
}

// Form step boundaries and field constraints.
const (
	FirstFormStep = 1
	LastFormStep  = 3

	MinAspirationsLen = 25
	MinNumber         = 0
	MaxNumber         = 99
	numberCount       = 3
)

// ErrorKind classifies flow failures for the view layer.
type ErrorKind int

const (
	// MissingCredential: no poster code present at all. Fatal, the flow
	// cannot proceed.
	MissingCredential ErrorKind = iota
	// VerificationRejected: bad or expired code. Recoverable with a new code.
	VerificationRejected
	// SubmissionRejected: the backend refused the form payload. Recoverable,
	// the flow stays on the current form step.
	SubmissionRejected
	// TransportFailure: network or timeout. Recoverable, the same action may
	// be retried.
	TransportFailure
)

// FlowError is the error type surfaced by the flow.
type FlowError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *FlowError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *FlowError) Unwrap() error {
	return e.Err
}

// Form holds the multi-step registration input. Going back a step never
// clears previously entered data.
type Form struct {
	Name        string
	DateOfBirth string
	Gender      string

	Color    string
	Language string
	Numbers  [numberCount]int

	Aspirations string
	Interests   []string

	numbersSet [numberCount]bool
}

// Outcome is the result of a successful verify call.
type Outcome struct {
	// ExistingUser short-circuits the form: the resolved identity is ready
	// and the session may proceed toward the reveal directly.
	ExistingUser bool
	Identity     *domain.NFCIdentity
}

// Flow drives one registration attempt. The poster code is transient: held
// only while the flow runs, discarded on success or abandonment.
type Flow struct {
	client *backend.Client
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	step     int
	code     string
	verified bool
	form     Form
	identity *domain.NFCIdentity
	lastErr  string
}

// NewFlow creates a flow awaiting a poster code.
func NewFlow(client *backend.Client, logger *slog.Logger) *Flow {
	if logger == nil {
		logger = slog.Default()
	}
	return &Flow{client: client, logger: logger, state: StateAwaitingCode}
}

// State returns the current flow state.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Step returns the active form step (1..3), or 0 outside the form phase.
func (f *Flow) Step() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StateForm {
		return 0
	}
	return f.step
}

// LastError returns the most recent user-facing error message.
func (f *Flow) LastError() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastErr
}

// Identity returns the resolved identity after a successful registration or
// existing-user short-circuit.
func (f *Flow) Identity() *domain.NFCIdentity {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.identity
}

// FormSnapshot returns a copy of the entered form data.
func (f *Flow) FormSnapshot() Form {
	f.mu.Lock()
	defer f.mu.Unlock()
	form := f.form
	form.Interests = append([]string(nil), f.form.Interests...)
	return form
}

// VerifyCode sends the poster code for verification. On success the flow
// either short-circuits for an existing user (the profile is refreshed from
// the backend) or advances to form step 1. Verification failure returns to
// AwaitingCode with the error recorded; it never advances the flow.
func (f *Flow) VerifyCode(scope *liveness.Scope, code string) (*Outcome, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, &FlowError{Kind: MissingCredential, Message: "no poster code provided"}
	}

	f.mu.Lock()
	f.state = StateVerifying
	f.lastErr = ""
	f.mu.Unlock()

	result, err := f.client.VerifyPoster(scope, code)
	if err != nil {
		return nil, f.failVerify(scope, err)
	}

	if result.ExistingUser {
		// Refresh the profile rather than trusting any cached copy; the
		// lookup is required to resolve it anyway.
		identity, err := f.client.LookupNFCUser(scope, result.TagID)
		if err != nil {
			return nil, f.failVerify(scope, err)
		}
		if !scope.Commit(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.state = StateSuccess
			f.identity = identity
			f.code = ""
		}) {
			return nil, backend.ErrStale
		}
		return &Outcome{ExistingUser: true, Identity: identity}, nil
	}

	if !scope.Commit(func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.state = StateForm
		f.step = FirstFormStep
		f.code = code
		f.verified = true
	}) {
		return nil, backend.ErrStale
	}
	return &Outcome{ExistingUser: false}, nil
}

// SetIdentity records form step 1 fields.
func (f *Flow) SetIdentity(name, dateOfBirth, gender string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.form.Name = strings.TrimSpace(name)
	f.form.DateOfBirth = strings.TrimSpace(dateOfBirth)
	f.form.Gender = strings.TrimSpace(gender)
}

// SetPreferences records form step 2 fields.
func (f *Flow) SetPreferences(color, language string, numbers [numberCount]int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.form.Color = strings.TrimSpace(color)
	f.form.Language = strings.TrimSpace(language)
	f.form.Numbers = numbers
	for i := range f.form.numbersSet {
		f.form.numbersSet[i] = true
	}
}

// SetAspirations records form step 3 fields.
func (f *Flow) SetAspirations(text string, interests []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.form.Aspirations = text
	f.form.Interests = append([]string(nil), interests...)
}

// CanContinue reports whether the active step's completeness predicate holds.
// The view keeps its Continue action disabled while this is false.
func (f *Flow) CanContinue() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StateForm {
		return false
	}
	return f.stepComplete(f.step)
}

func (f *Flow) stepComplete(step int) bool {
	switch step {
	case 1:
		if f.form.Name == "" || f.form.Gender == "" {
			return false
		}
		_, err := domain.ZodiacSignFromDate(f.form.DateOfBirth)
		return err == nil
	case 2:
		if f.form.Color == "" || f.form.Language == "" {
			return false
		}
		for i, n := range f.form.Numbers {
			if !f.form.numbersSet[i] || n < MinNumber || n > MaxNumber {
				return false
			}
		}
		return true
	case 3:
		return len(strings.TrimSpace(f.form.Aspirations)) >= MinAspirationsLen &&
			len(f.form.Interests) >= 1
	}
	return false
}

// Next advances one form step when the current step is complete.
func (f *Flow) Next() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StateForm || f.step >= LastFormStep || !f.stepComplete(f.step) {
		return false
	}
	f.step++
	return true
}

// Back returns one form step without losing entered data.
func (f *Flow) Back() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StateForm || f.step <= FirstFormStep {
		return false
	}
	f.step--
	return true
}

// Submit sends the complete payload from the last form step. The zodiac sign
// is derived locally from the date of birth. Registration is never attempted
// with an unverified code.
func (f *Flow) Submit(scope *liveness.Scope) (*domain.NFCIdentity, error) {
	f.mu.Lock()
	if f.state != StateForm || f.step != LastFormStep {
		f.mu.Unlock()
		return nil, &FlowError{Kind: SubmissionRejected, Message: "registration form is not complete"}
	}
	if !f.verified || f.code == "" {
		f.mu.Unlock()
		return nil, &FlowError{Kind: MissingCredential, Message: "poster code was never verified"}
	}
	if !f.stepComplete(LastFormStep) {
		f.mu.Unlock()
		return nil, &FlowError{Kind: SubmissionRejected, Message: "aspirations or interests incomplete"}
	}
	form := f.form
	code := f.code
	f.state = StateSubmitting
	f.lastErr = ""
	f.mu.Unlock()

	sign, err := domain.ZodiacSignFromDate(form.DateOfBirth)
	if err != nil {
		return nil, f.failSubmit(scope, &FlowError{Kind: SubmissionRejected, Message: "invalid date of birth", Err: err})
	}

	payload := backend.RegistrationPayload{
		Code:        code,
		Name:        form.Name,
		DateOfBirth: form.DateOfBirth,
		Gender:      form.Gender,
		Color:       form.Color,
		Language:    form.Language,
		Numbers:     form.Numbers[:],
		Aspirations: form.Aspirations,
		Interests:   form.Interests,
		ZodiacSign:  sign,
	}

	identity, err := f.client.RegisterNFCUser(scope, payload)
	if err != nil {
		return nil, f.failSubmit(scope, err)
	}

	if !scope.Commit(func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.state = StateSuccess
		f.identity = identity
		f.code = ""
	}) {
		return nil, backend.ErrStale
	}
	return identity, nil
}

// Restart abandons the flow back to AwaitingCode, discarding the code but
// keeping entered form data for convenience.
func (f *Flow) Restart() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = StateAwaitingCode
	f.step = 0
	f.code = ""
	f.verified = false
	f.identity = nil
	f.lastErr = ""
}

// failVerify maps a backend error to the verify-phase taxonomy and returns
// the flow to AwaitingCode.
func (f *Flow) failVerify(scope *liveness.Scope, err error) error {
	if backend.IsStale(err) {
		return err
	}
	flowErr := classifyVerify(err)
	scope.Commit(func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.state = StateAwaitingCode
		f.verified = false
		f.lastErr = flowErr.Message
	})
	return flowErr
}

// failSubmit maps a backend error to the submit-phase taxonomy. An
// already-registered rejection recovers to AwaitingCode rather than
// dead-ending; everything else keeps the user on the final form step.
func (f *Flow) failSubmit(scope *liveness.Scope, err error) error {
	if backend.IsStale(err) {
		return err
	}

	var flowErr *FlowError
	backToCode := false
	if fe, ok := err.(*FlowError); ok {
		flowErr = fe
	} else if failure, ok := backend.AsFailure(err); ok {
		switch {
		case failure.Kind == backend.KindRejected && failure.Status == http.StatusConflict:
			flowErr = &FlowError{Kind: VerificationRejected, Message: failure.Message, Err: err}
			backToCode = true
		case failure.Kind == backend.KindRejected:
			flowErr = &FlowError{Kind: SubmissionRejected, Message: failure.Message, Err: err}
		default:
			flowErr = &FlowError{Kind: TransportFailure, Message: failure.Message, Err: err}
		}
	} else {
		flowErr = &FlowError{Kind: TransportFailure, Message: err.Error(), Err: err}
	}

	scope.Commit(func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.lastErr = flowErr.Message
		if backToCode {
			f.state = StateAwaitingCode
			f.step = 0
			f.code = ""
			f.verified = false
		} else {
			f.state = StateForm
			f.step = LastFormStep
		}
	})
	return flowErr
}

func classifyVerify(err error) *FlowError {
	if failure, ok := backend.AsFailure(err); ok {
		if failure.Kind == backend.KindRejected {
			return &FlowError{Kind: VerificationRejected, Message: failure.Message, Err: err}
		}
		return &FlowError{Kind: TransportFailure, Message: failure.Message, Err: err}
	}
	return &FlowError{Kind: TransportFailure, Message: err.Error(), Err: err}
}
