package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/arcanaday/arcana-session/internal/backend"
	"github.com/arcanaday/arcana-session/internal/chat"
	"github.com/arcanaday/arcana-session/internal/domain"
	"github.com/arcanaday/arcana-session/internal/liveness"
	"github.com/arcanaday/arcana-session/internal/nfc"
	"github.com/arcanaday/arcana-session/internal/prefs"
)

var (
	ErrWrongStep         = errors.New("action is not legal in the current step")
	ErrSubmitInFlight    = errors.New("a submission is already in flight")
	ErrUnknownTier       = errors.New("unknown entry tier")
	ErrNoReading         = errors.New("no reading has been fetched")
	ErrAdminOnly         = errors.New("action requires the admin overlay")
	ErrAdminShortCircuit = errors.New("admin mode bypasses session steps")
	ErrNoIdentity        = errors.New("no tag-linked identity in session")
)

// Options configures a controller at construction.
type Options struct {
	// AdminMode short-circuits the machine directly into the admin overlay,
	// bypassing the numbered steps entirely. Driven by a query parameter.
	AdminMode bool
	// DevMode toggles the dev overlay flag, orthogonal to the steps.
	DevMode bool
	// DefaultLanguage is used when no preference is persisted.
	DefaultLanguage string
}

// Controller is the single source of truth for which screen is active and
// the legal transitions between screens. All mutation happens through its
// handler methods, serialized by one mutex; the view layer only renders the
// snapshot and calls handlers back.
type Controller struct {
	client *backend.Client
	prefs  prefs.Repository
	logger *slog.Logger
	scope  *liveness.Scope
	userID string

	mu              sync.Mutex
	step            Step
	stepBeforeModal Step
	adminOverlay    bool
	devOverlay      bool
	submitting      bool
	lastError       string
	promoSeen       bool

	profile  domain.Profile
	reading  *domain.Reading
	identity *domain.NFCIdentity

	muted            bool
	playbackUnlocked bool

	flow        *nfc.Flow
	chatManager *chat.Manager
}

// NewController creates a session controller and loads the persisted
// preferences (promo flag, preferred language). Preference load failures are
// logged, not fatal — the session starts with defaults.
func NewController(ctx context.Context, client *backend.Client, repo prefs.Repository, userID string, opts Options, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.DefaultLanguage == "" {
		opts.DefaultLanguage = "en"
	}

	c := &Controller{
		client:      client,
		prefs:       repo,
		logger:      logger,
		scope:       liveness.NewScope(context.Background()),
		userID:      userID,
		step:        StepLanding,
		flow:        nfc.NewFlow(client, logger),
		chatManager: chat.NewManager(client, logger),
	}
	c.profile.Language = opts.DefaultLanguage
	c.adminOverlay = opts.AdminMode
	c.devOverlay = opts.DevMode

	if repo != nil {
		if lang, err := repo.Language(ctx, userID); err != nil {
			logger.Warn("failed to load language preference", "user_id", userID, "error", err)
		} else if lang != "" {
			c.profile.Language = lang
		}
		if seen, err := repo.PromoSeen(ctx, userID); err != nil {
			logger.Warn("failed to load promo flag", "user_id", userID, "error", err)
		} else {
			c.promoSeen = seen
		}
	}

	return c
}

// Scope exposes the session's liveness scope to the delivery layer.
func (c *Controller) Scope() *liveness.Scope {
	return c.scope
}

// Flow exposes the registration sub-flow.
func (c *Controller) Flow() *nfc.Flow {
	return c.flow
}

// Chat exposes the chat session manager. Restart replaces the manager, so
// callers should not hold the returned pointer across handler calls.
func (c *Controller) Chat() *chat.Manager {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chatManager
}

// Snapshot is the render state consumed by the view layer.
type Snapshot struct {
	Step             Step                 `json:"step"`
	AdminOverlay     bool                 `json:"admin_overlay"`
	DevOverlay       bool                 `json:"dev_overlay"`
	Submitting       bool                 `json:"submitting"`
	LastError        string               `json:"last_error,omitempty"`
	PromoSeen        bool                 `json:"promo_seen"`
	Muted            bool                 `json:"muted"`
	PlaybackUnlocked bool                 `json:"playback_unlocked"`
	Profile          domain.Profile       `json:"profile"`
	Reading          *domain.Reading      `json:"reading,omitempty"`
	Identity         *domain.NFCIdentity  `json:"identity,omitempty"`
	Transcript       []domain.ChatMessage `json:"transcript,omitempty"`
}

// Snapshot returns the current render state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Step:             c.step,
		AdminOverlay:     c.adminOverlay,
		DevOverlay:       c.devOverlay,
		Submitting:       c.submitting,
		LastError:        c.lastError,
		PromoSeen:        c.promoSeen,
		Muted:            c.muted,
		PlaybackUnlocked: c.playbackUnlocked,
		Profile:          c.profile,
		Reading:          c.reading,
		Identity:         c.identity,
		Transcript:       c.chatManager.Transcript(),
	}
}

// Step returns the active step.
func (c *Controller) Step() Step {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.step
}

// LastError returns the most recent network failure message, if any.
func (c *Controller) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}

// ChooseEntry moves Landing → Onboarding. The entry choice fixes the profile
// tier for the remainder of the session.
func (c *Controller) ChooseEntry(tier domain.Tier) error {
	if !tier.Valid() {
		return ErrUnknownTier
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.adminOverlay {
		return ErrAdminShortCircuit
	}
	if c.step != StepLanding {
		return ErrWrongStep
	}
	c.recordGestureLocked()
	c.profile.Tier = tier
	c.step = StepOnboarding
	c.lastError = ""
	return nil
}

// SubmitOnboarding persists the identity and fetches the reading. The step
// advances to Reveal only after both calls succeed; on any failure the step
// holds at Onboarding and the error is recorded in lastError. Network
// failures never propagate as Go errors to the view — the returned error is
// reserved for misuse (wrong step, concurrent submission).
func (c *Controller) SubmitOnboarding(name, dateOfBirth string) error {
	c.mu.Lock()
	if c.step != StepOnboarding {
		c.mu.Unlock()
		return ErrWrongStep
	}
	if c.submitting {
		c.mu.Unlock()
		return ErrSubmitInFlight
	}
	c.recordGestureLocked()
	c.submitting = true
	c.lastError = ""
	tier := c.profile.Tier
	language := c.profile.Language
	c.mu.Unlock()

	sign, err := c.client.SubmitUser(c.scope, backend.SubmitUserRequest{
		Name:        name,
		DateOfBirth: dateOfBirth,
		Language:    language,
		Tier:        tier,
	})
	if err != nil {
		c.recordFailure(err)
		return nil
	}

	var reading *domain.Reading
	if tier == domain.TierPremium {
		reading, err = c.client.ThreeCardReading(c.scope, backend.SpreadRequest{
			Name:       name,
			ZodiacSign: sign,
			Language:   language,
		})
	} else {
		reading, err = c.client.GetReading(c.scope, backend.ReadingQuery{
			Name:       name,
			ZodiacSign: sign,
			Language:   language,
		})
	}
	if err != nil {
		c.recordFailure(err)
		return nil
	}

	c.scope.Commit(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.submitting = false
		c.profile.Name = name
		c.profile.DateOfBirth = dateOfBirth
		c.profile.ZodiacSign = sign
		c.reading = reading
		c.step = StepReveal
	})
	return nil
}

// ShowInterpretation moves Reveal → Interpretation on explicit user action
// once all cards are visually revealed, carrying profile and reading forward.
func (c *Controller) ShowInterpretation() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.step != StepReveal {
		return ErrWrongStep
	}
	if c.reading == nil || c.reading.Empty() {
		return ErrNoReading
	}
	c.recordGestureLocked()
	c.step = StepInterpretation
	return nil
}

// OpenUpsell overlays the upsell modal, remembering the step it was entered
// from so Close restores it exactly.
func (c *Controller) OpenUpsell() error {
	return c.openModal(StepUpsellModal)
}

// OpenExplore overlays the explore modal.
func (c *Controller) OpenExplore() error {
	return c.openModal(StepExploreModal)
}

func (c *Controller) openModal(modal Step) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.step != StepInterpretation {
		return ErrWrongStep
	}
	c.recordGestureLocked()
	c.stepBeforeModal = c.step
	c.step = modal
	return nil
}

// CloseModal restores the step remembered when the modal was opened.
func (c *Controller) CloseModal() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.step.IsModal() {
		return ErrWrongStep
	}
	c.step = c.stepBeforeModal
	return nil
}

// Restart returns to Landing from any step, clearing profile and reading
// fields to defaults. It does not cancel the liveness scope and does not
// touch the persisted preference cache.
func (c *Controller) Restart() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetSessionLocked()
}

// resetSessionLocked clears the per-session fields. The explicit reset list:
// step, modal memory, submitting flag, last error, profile identity fields,
// reading, NFC identity, registration flow, chat session. Preserved: liveness
// scope, persisted prefs, mute flag, playback-unlock gesture, overlay flags.
func (c *Controller) resetSessionLocked() {
	language := c.profile.Language
	c.step = StepLanding
	c.stepBeforeModal = StepLanding
	c.submitting = false
	c.lastError = ""
	c.profile = domain.Profile{Language: language}
	c.reading = nil
	c.identity = nil
	c.flow.Restart()
	c.chatManager.Close()
	c.chatManager = chat.NewManager(c.client, c.logger)
}

// ExitAdmin leaves the admin overlay back to Landing, clearing all session
// fields including the persisted preference cache.
func (c *Controller) ExitAdmin(ctx context.Context) error {
	c.mu.Lock()
	if !c.adminOverlay {
		c.mu.Unlock()
		return ErrAdminOnly
	}
	c.adminOverlay = false
	c.resetSessionLocked()
	c.mu.Unlock()

	if c.prefs != nil {
		if err := c.prefs.Clear(ctx, c.userID); err != nil {
			c.logger.Warn("failed to clear persisted preferences", "user_id", c.userID, "error", err)
		}
	}
	return nil
}

// EnterAdmin activates the admin overlay, short-circuiting the numbered
// steps. Driven by a query parameter, not by any in-session action.
func (c *Controller) EnterAdmin() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.adminOverlay = true
}

// AdminOverlay reports whether the admin overlay is active.
func (c *Controller) AdminOverlay() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.adminOverlay
}

// ToggleDevOverlay flips the dev overlay flag, orthogonal to the steps.
func (c *Controller) ToggleDevOverlay() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.devOverlay = !c.devOverlay
	return c.devOverlay
}

// SetMuted records the audio mute preference for this session.
func (c *Controller) SetMuted(muted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.muted = muted
}

// CanPlayAudio reports whether the view may request playback: autoplay
// policies forbid audio before the first user gesture.
func (c *Controller) CanPlayAudio() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playbackUnlocked && !c.muted
}

// recordGestureLocked marks that a user gesture has occurred, unlocking
// playback for the rest of the session. Callers hold c.mu.
func (c *Controller) recordGestureLocked() {
	c.playbackUnlocked = true
}

// SetLanguage updates the active language, persists the preference, and
// restarts any open chat session (its backend context is language-bound).
func (c *Controller) SetLanguage(ctx context.Context, language string) error {
	c.mu.Lock()
	c.profile.Language = language
	manager := c.chatManager
	c.mu.Unlock()

	if c.prefs != nil {
		if err := c.prefs.SetLanguage(ctx, c.userID, language); err != nil {
			c.logger.Warn("failed to persist language preference", "user_id", c.userID, "error", err)
		}
	}

	// The manager covers every lifecycle state itself: before the first start
	// it only records the new language, afterwards it rebinds the backend
	// session even when a turn is still in flight.
	if err := manager.SetLanguage(c.scope, language, false); err != nil {
		if !backend.IsStale(err) && !errors.Is(err, chat.ErrAlreadyClosed) {
			c.recordFailure(err)
		}
	}
	return nil
}

// MarkPromoSeen records the promo flag in memory and in the persisted store.
func (c *Controller) MarkPromoSeen(ctx context.Context) {
	c.mu.Lock()
	c.promoSeen = true
	c.mu.Unlock()

	if c.prefs != nil {
		if err := c.prefs.SetPromoSeen(ctx, c.userID, true); err != nil {
			c.logger.Warn("failed to persist promo flag", "user_id", c.userID, "error", err)
		}
	}
}

// VerifyPosterCode runs the registration flow's verify phase. An existing
// user short-circuits the form: the resolved profile is adopted, the daily
// reading fetched, and the session proceeds straight toward Reveal.
func (c *Controller) VerifyPosterCode(code string) error {
	c.mu.Lock()
	if c.adminOverlay {
		c.mu.Unlock()
		return ErrAdminShortCircuit
	}
	if c.step != StepLanding {
		c.mu.Unlock()
		return ErrWrongStep
	}
	if c.submitting {
		c.mu.Unlock()
		return ErrSubmitInFlight
	}
	c.recordGestureLocked()
	c.submitting = true
	c.lastError = ""
	c.mu.Unlock()

	outcome, err := c.flow.VerifyCode(c.scope, code)
	if err != nil {
		if backend.IsStale(err) {
			return nil
		}
		var flowErr *nfc.FlowError
		if errors.As(err, &flowErr) && flowErr.Kind == nfc.MissingCredential {
			c.clearSubmitting()
			return err
		}
		c.recordFailure(err)
		return nil
	}

	if outcome.ExistingUser {
		return c.adoptIdentity(outcome.Identity)
	}
	c.clearSubmitting()
	return nil
}

func (c *Controller) clearSubmitting() {
	c.scope.Commit(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.submitting = false
	})
}

// CompleteRegistration submits the finished registration form, then adopts
// the new identity and proceeds toward Reveal.
func (c *Controller) CompleteRegistration() error {
	identity, err := c.flow.Submit(c.scope)
	if err != nil {
		if backend.IsStale(err) {
			return nil
		}
		var flowErr *nfc.FlowError
		if errors.As(err, &flowErr) && flowErr.Kind == nfc.SubmissionRejected {
			// Client-side validation failure; handled inline by the view.
			return err
		}
		c.recordFailure(err)
		return nil
	}
	return c.adoptIdentity(identity)
}

// adoptIdentity installs a resolved NFC identity, fetches today's reading
// for it, and advances to Reveal.
func (c *Controller) adoptIdentity(identity *domain.NFCIdentity) error {
	reading, err := c.client.DailyReading(c.scope, identity.TagID, identity.Profile.Language)
	if err != nil {
		c.recordFailure(err)
		return nil
	}

	c.scope.Commit(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.identity = identity
		c.profile = identity.Profile
		c.profile.Tier = domain.TierNFC
		c.reading = reading
		c.step = StepReveal
		c.submitting = false
	})
	return nil
}

// UpdateRegisteredProfile pushes edited profile fields for the adopted
// tag-linked identity and installs the backend's updated copy.
func (c *Controller) UpdateRegisteredProfile(payload backend.RegistrationPayload) error {
	c.mu.Lock()
	identity := c.identity
	c.mu.Unlock()
	if identity == nil {
		return ErrNoIdentity
	}

	updated, err := c.client.UpdateNFCUser(c.scope, identity.TagID, payload)
	if err != nil {
		c.recordFailure(err)
		return nil
	}

	c.scope.Commit(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.identity = updated
		c.profile = updated.Profile
		c.profile.Tier = domain.TierNFC
	})
	return nil
}

// StartChat opens the follow-up conversation for the current reading. Legal
// from Interpretation only.
func (c *Controller) StartChat() error {
	c.mu.Lock()
	if c.step != StepInterpretation {
		c.mu.Unlock()
		return ErrWrongStep
	}
	if c.reading == nil {
		c.mu.Unlock()
		return ErrNoReading
	}
	req := backend.StartChatRequest{
		Name:           c.profile.Name,
		ZodiacSign:     c.profile.ZodiacSign,
		CardNames:      c.reading.CardNames,
		Interpretation: c.reading.Interpretation,
		Tier:           string(c.profile.Tier),
		Language:       c.profile.Language,
	}
	if req.CardNames == nil && c.reading.CardName != "" {
		req.CardNames = []string{c.reading.CardName}
	}
	manager := c.chatManager
	c.mu.Unlock()

	if err := manager.Start(c.scope, req); err != nil && !backend.IsStale(err) {
		c.recordFailure(err)
	}
	return nil
}

// ResumeChat reenters a conversation with caller-supplied history, skipping
// the session-start call. The next send lazily opens a backend session when
// no session id is supplied. Legal from Interpretation only.
func (c *Controller) ResumeChat(history []domain.ChatMessage, sessionID string) error {
	c.mu.Lock()
	if c.step != StepInterpretation {
		c.mu.Unlock()
		return ErrWrongStep
	}
	if c.reading == nil {
		c.mu.Unlock()
		return ErrNoReading
	}
	req := backend.StartChatRequest{
		Name:           c.profile.Name,
		ZodiacSign:     c.profile.ZodiacSign,
		CardNames:      c.reading.CardNames,
		Interpretation: c.reading.Interpretation,
		Tier:           string(c.profile.Tier),
		Language:       c.profile.Language,
	}
	if req.CardNames == nil && c.reading.CardName != "" {
		req.CardNames = []string{c.reading.CardName}
	}
	manager := c.chatManager
	c.mu.Unlock()

	manager.Resume(req, history, sessionID)
	return nil
}

// SendChatMessage forwards a user message into the open chat session.
func (c *Controller) SendChatMessage(text string) error {
	c.mu.Lock()
	manager := c.chatManager
	c.mu.Unlock()

	err := manager.Send(c.scope, text)
	if err != nil && !backend.IsStale(err) && !errors.Is(err, chat.ErrNotReady) && !errors.Is(err, chat.ErrAlreadyClosed) {
		// The transcript already carries the error-role entry; lastError is
		// not involved for chat turns.
		c.logger.Debug("chat send failed", "user_id", c.userID, "error", err)
	}
	return err
}

// CloseChat ends the conversation without touching the rest of the session.
// A fresh manager replaces the closed one, so a later StartChat opens a new
// conversation instead of failing against the closed session.
func (c *Controller) CloseChat() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chatManager.Close()
	c.chatManager = chat.NewManager(c.client, c.logger)
}

// Teardown cancels the liveness scope once, centrally. In-flight results
// arriving afterwards are discarded without mutating state.
func (c *Controller) Teardown() {
	c.scope.Cancel()
	c.mu.Lock()
	manager := c.chatManager
	c.mu.Unlock()
	manager.Close()
}

// recordFailure captures a network failure as the session's lastError while
// holding the current step steady. Stale results are swallowed entirely.
func (c *Controller) recordFailure(err error) {
	if backend.IsStale(err) {
		return
	}
	message := err.Error()
	if f, ok := backend.AsFailure(err); ok {
		message = f.Message
	}
	var flowErr *nfc.FlowError
	if errors.As(err, &flowErr) {
		message = flowErr.Message
	}
	c.scope.Commit(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.submitting = false
		c.lastError = message
	})
}
