package wizard

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/hazyhaar/scrapewizard/internal/gate"
	"github.com/hazyhaar/scrapewizard/internal/guard"
	"github.com/hazyhaar/scrapewizard/internal/store"
)

// Studio lets an operator follow sessions and answer a waiting controller
// from outside the terminal, over HTTP or MCP.
type Studio struct {
	sessions SessionStore
	prompter *gate.Channel
	ctrl     *Controller
	log      *slog.Logger
}

// NewStudio serves sessions from st and answers through p. ctrl receives
// column hints and may be nil.
func NewStudio(st SessionStore, p *gate.Channel, ctrl *Controller, logger *slog.Logger) *Studio {
	if logger == nil {
		logger = slog.Default()
	}
	return &Studio{sessions: st, prompter: p, ctrl: ctrl, log: logger}
}

// ErrNoPrompter is returned when answers are sent to a studio without a
// channel prompter.
var ErrNoPrompter = errors.New("wizard: studio has no interactive prompter")

// Sessions lists stored sessions, most recent first.
func (s *Studio) Sessions(ctx context.Context, limit int) ([]store.Summary, error) {
	return s.sessions.List(ctx, limit)
}

// Session returns one stored session.
func (s *Studio) Session(ctx context.Context, id string) (*Session, error) {
	if err := guard.ValidateSessionID(id); err != nil {
		return nil, err
	}
	return s.sessions.Load(ctx, id)
}

// Events returns the last limit journal entries of a session.
func (s *Studio) Events(ctx context.Context, id string, limit int) ([]store.Event, error) {
	if _, err := s.Session(ctx, id); err != nil {
		return nil, err
	}
	return s.sessions.Events(ctx, id, limit)
}

// Pending returns what the controller is waiting on, if anything.
func (s *Studio) Pending() gate.Pending {
	if s.prompter == nil {
		return gate.Pending{}
	}
	return s.prompter.Pending()
}

// Answer resolves the pending gate or suspension. status defaults to
// resolved; value is ignored for suspensions.
func (s *Studio) Answer(status, value string) error {
	if s.prompter == nil {
		return ErrNoPrompter
	}
	st := gate.Resolved
	switch strings.ToLower(status) {
	case "", string(gate.Resolved), "done":
	case string(gate.Cancelled), "cancel", "abort":
		st = gate.Cancelled
	default:
		return errors.New("wizard: status must be resolved or cancelled")
	}
	if err := s.prompter.Answer(gate.Resolution{Status: st, Value: value}); err != nil {
		return err
	}
	s.log.Info("studio: answered", "status", st, "value", value)
	return nil
}

// AddHints queues column hints for the session's next repair.
func (s *Studio) AddHints(ctx context.Context, id string, hints []string) error {
	if _, err := s.Session(ctx, id); err != nil {
		return err
	}
	if s.ctrl != nil {
		s.ctrl.AddHints(id, hints...)
	}
	return nil
}
