// Package chatbot implements the conversation engine: a pure dispatch from
// (current state, normalized input) to the next state and an ordered list of
// messages to send.
package chatbot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/zapito/internal/domain"
	"github.com/ashureev/zapito/internal/metrics"
	"github.com/ashureev/zapito/internal/textnorm"
)

// StaffRotator selects the next staff member of a pool by least assignments.
type StaffRotator interface {
	RotateSeller(ctx context.Context) (*domain.Staff, error)
	RotateSupportAgent(ctx context.Context, sector string) (*domain.Staff, error)
}

// StatRecorder increments best-effort event counters.
type StatRecorder interface {
	IncrementStat(ctx context.Context, key string) error
}

// Config controls engine behavior.
type Config struct {
	// RestartKeys force a return to the main menu from any state. Entries are
	// normalized on construction.
	RestartKeys []string
	// AllowDevReset enables the development-only session reset literal.
	AllowDevReset bool
	// Language is the template language code.
	Language string
	// Timezone is used to pick the greeting period.
	Timezone string
}

// Input is one inbound message together with the sender's current state.
type Input struct {
	UserID      string
	DisplayName string
	Text        string
	State       domain.State
}

// Result is the outcome of one turn.
type Result struct {
	Next  domain.State
	Sends []domain.SendIntent
	// Staff is set when the turn assigned a staff member to the session.
	Staff *domain.StaffRef
	// Reset asks the caller to delete the session instead of persisting Next.
	Reset bool
	// Route names the branch taken, for logs and monitoring.
	Route string
}

// Engine maps a turn's input to a Result.
type Engine struct {
	staff       StaffRotator
	stats       StatRecorder
	restartKeys []string
	devReset    bool
	language    string
	loc         *time.Location
	now         func() time.Time
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock overrides the time source used for greetings.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l.With("component", "chatbot") }
}

// NewEngine creates a conversation engine.
func NewEngine(staff StaffRotator, stats StatRecorder, cfg Config, opts ...Option) *Engine {
	var keys []string
	for _, k := range cfg.RestartKeys {
		if n := textnorm.Normalize(k); n != "" {
			keys = append(keys, n)
		}
	}
	lang := cfg.Language
	if lang == "" {
		lang = domain.DefaultLanguage
	}

	e := &Engine{
		staff:       staff,
		stats:       stats,
		restartKeys: keys,
		devReset:    cfg.AllowDevReset,
		language:    lang,
		loc:         loadLocation(cfg.Timezone),
		now:         time.Now,
		logger:      slog.Default().With("component", "chatbot"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// turn carries per-call values through the handlers.
type turn struct {
	Input
	txt string
}

// Process runs one turn. It never returns an error: failures inside dispatch
// become a generic apology and a return to the options menu.
func (e *Engine) Process(ctx context.Context, in Input) Result {
	t := turn{Input: in, txt: textnorm.Normalize(in.Text)}

	res, err := e.dispatch(ctx, t)
	if err != nil {
		e.logger.Error("conversation dispatch failed",
			"user_id", in.UserID,
			"state", in.State,
			"error", err)
		res = Result{
			Next:  domain.StateOptions,
			Sends: []domain.SendIntent{domain.TextIntent(in.UserID, textInternalError)},
			Route: "error",
		}
	}

	e.metrics.Turn(string(in.State), string(res.Next))
	e.logger.Info("conversation turn",
		"user_id", in.UserID,
		"state", in.State,
		"next_state", res.Next,
		"route", res.Route,
		"sends", len(res.Sends))
	return res
}

func (e *Engine) dispatch(ctx context.Context, t turn) (Result, error) {
	if e.devReset && e.isDevReset(t) {
		return Result{
			Next:  domain.StateOptions,
			Sends: []domain.SendIntent{domain.TextIntent(t.UserID, textDevReset)},
			Reset: true,
			Route: "dev_reset",
		}, nil
	}

	if e.isRestart(t.txt) {
		return e.mainMenu(t, "restart"), nil
	}

	switch t.State {
	case domain.StateOptions:
		return e.handleOptions(ctx, t)
	case domain.StateSac:
		return e.handleSac(ctx, t)
	case domain.StateOutros:
		return e.handleOutros(ctx, t), nil
	case domain.StateFeedback:
		return e.handleFeedback(t), nil
	default:
		// Initial, Finalized and anything unrecognized start over.
		return e.mainMenu(t, "main_menu"), nil
	}
}

func (e *Engine) isDevReset(t turn) bool {
	return strings.ToLower(strings.TrimSpace(t.Text)) == devResetRaw || t.txt == devResetNormalized
}

func (e *Engine) isRestart(txt string) bool {
	if txt == "" {
		return false
	}
	for _, k := range e.restartKeys {
		if strings.Contains(txt, k) {
			return true
		}
	}
	return false
}

func (e *Engine) handleOptions(ctx context.Context, t turn) (Result, error) {
	opt, ok := routes.options[t.txt]
	if !ok {
		return e.mainMenu(t, "options_fallback"), nil
	}

	switch opt {
	case optionSales:
		seller, err := e.rotateSeller(ctx)
		if err != nil {
			return Result{}, err
		}
		e.incrementStat(ctx, statSales)
		return Result{
			Next:  domain.StateFeedback,
			Sends: []domain.SendIntent{e.template(t.UserID, domain.TemplateSeller, t.DisplayName, seller.Name, seller.Link)},
			Staff: seller.Ref(),
			Route: opt.String(),
		}, nil
	case optionOrder:
		e.incrementStat(ctx, statOrder)
		return e.reply(domain.StateFeedback, opt.String(), e.template(t.UserID, domain.TemplateOrder, t.DisplayName)), nil
	case optionSac:
		e.incrementStat(ctx, statSacMenu)
		return e.reply(domain.StateSac, opt.String(), e.template(t.UserID, domain.TemplateSacMenu, t.DisplayName)), nil
	case optionOther:
		e.incrementStat(ctx, statOutrosMenu)
		return e.reply(domain.StateOutros, opt.String(), e.template(t.UserID, domain.TemplateOutrosMenu, t.DisplayName)), nil
	default:
		return Result{}, fmt.Errorf("unhandled option %d", opt)
	}
}

func (e *Engine) handleSac(ctx context.Context, t turn) (Result, error) {
	if sector, ok := routes.sectors[t.txt]; ok {
		agent, err := e.rotateSupport(ctx, sector)
		if err != nil {
			return Result{}, err
		}
		e.incrementStat(ctx, statSacPrefix+t.txt)
		return Result{
			Next:  domain.StateFeedback,
			Sends: []domain.SendIntent{e.template(t.UserID, domain.TemplateSac, t.DisplayName, agent.Link)},
			Staff: agent.Ref(),
			Route: "sac_sector",
		}, nil
	}
	if res, ok := e.escape(t); ok {
		return res, nil
	}
	return e.reply(domain.StateSac, "sac_fallback", e.template(t.UserID, domain.TemplateSacMenu, t.DisplayName)), nil
}

func (e *Engine) handleOutros(ctx context.Context, t turn) Result {
	if tpl, ok := routes.info[t.txt]; ok {
		e.incrementStat(ctx, statInfoPrefix+t.txt)
		return e.reply(domain.StateOutros, "info", e.template(t.UserID, tpl))
	}
	if res, ok := e.escape(t); ok {
		return res
	}
	return e.reply(domain.StateOutros, "outros_fallback", e.template(t.UserID, domain.TemplateOutrosMenu, t.DisplayName))
}

func (e *Engine) handleFeedback(t turn) Result {
	if res, ok := e.escape(t); ok {
		return res
	}
	return e.reply(domain.StateFeedback, "feedback_hint", domain.TextIntent(t.UserID, textFeedbackHint))
}

// escape handles the "finalizar" and "menu" words. "finalizar" wins when
// both appear.
func (e *Engine) escape(t turn) (Result, bool) {
	switch {
	case strings.Contains(t.txt, keywordFinalize):
		return e.reply(domain.StateFinalized, "finalize", e.template(t.UserID, domain.TemplateFarewell)), true
	case strings.Contains(t.txt, keywordMenu):
		return e.mainMenu(t, "menu"), true
	default:
		return Result{}, false
	}
}

func (e *Engine) mainMenu(t turn, route string) Result {
	period := greetingPeriod(e.now().In(e.loc))
	return e.reply(domain.StateOptions, route, e.template(t.UserID, domain.TemplateMainMenu, t.DisplayName, period))
}

func (e *Engine) reply(next domain.State, route string, sends ...domain.SendIntent) Result {
	return Result{Next: next, Sends: sends, Route: route}
}

func (e *Engine) template(to, name string, params ...string) domain.SendIntent {
	intent := domain.TemplateIntent(to, name, params...)
	intent.Language = e.language
	return intent
}

func (e *Engine) rotateSeller(ctx context.Context) (*domain.Staff, error) {
	seller, err := e.staff.RotateSeller(ctx)
	if err != nil {
		e.metrics.Rotation(string(domain.StaffSeller), "error")
		return nil, fmt.Errorf("assign seller: %w", err)
	}
	e.metrics.Rotation(string(domain.StaffSeller), "ok")
	return seller, nil
}

func (e *Engine) rotateSupport(ctx context.Context, sector string) (*domain.Staff, error) {
	agent, err := e.staff.RotateSupportAgent(ctx, sector)
	if err != nil {
		e.metrics.Rotation(string(domain.StaffSupport), "error")
		return nil, fmt.Errorf("assign support agent: %w", err)
	}
	e.metrics.Rotation(string(domain.StaffSupport), "ok")
	return agent, nil
}

// incrementStat never fails the turn.
func (e *Engine) incrementStat(ctx context.Context, key string) {
	if e.stats == nil {
		return
	}
	if err := e.stats.IncrementStat(ctx, key); err != nil {
		e.metrics.StatFailure()
		e.logger.Warn("stat increment failed", "key", key, "error", err)
	}
}
