// Package bridge exposes the engine over a NATS command queue: control
// commands arrive as JSON messages, state transitions go out as events.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/reportforge/reportforge/internal/credential"
	"github.com/reportforge/reportforge/internal/workflow"
)

// Engine is the control surface the bridge drives. Satisfied by
// controller.Controller.
type Engine interface {
	Regenerate(ctx context.Context, stage workflow.Stage) error
	SupplyCredentials(ctx context.Context, targetID string, values credential.Values) error
	Confirm(term string) error
	Correct(term, text string) error
	Retry(ctx context.Context) error
}

// Conn is the slice of nats.Conn the bridge uses.
type Conn interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// Command payloads, one per command subject.
type (
	RegenerateCmd struct {
		Stage string `json:"stage"`
	}
	CredentialsCmd struct {
		Target string            `json:"target"`
		Values map[string]string `json:"values"`
	}
	ConfirmCmd struct {
		Term string `json:"term"`
	}
	CorrectCmd struct {
		Term   string `json:"term"`
		Answer string `json:"answer"`
	}
)

// TransitionEvent is published for every accepted state change.
type TransitionEvent struct {
	Session string `json:"session"`
	From    string `json:"from"`
	To      string `json:"to"`
}

// reply acknowledges a command when the sender asked for one.
type reply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Bridge connects one engine to a NATS subject namespace.
type Bridge struct {
	conn   Conn
	engine Engine
	base   string
	logger *zap.Logger
}

// New creates a bridge rooted at the given base subject.
func New(conn Conn, engine Engine, base string, logger *zap.Logger) *Bridge {
	if base == "" {
		base = "reportforge"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{conn: conn, engine: engine, base: base, logger: logger}
}

// Start subscribes to the command namespace.
func (b *Bridge) Start() error {
	subject := b.base + ".cmd.>"
	if _, err := b.conn.Subscribe(subject, b.Handle); err != nil {
		return fmt.Errorf("subscribing to %s: %w", subject, err)
	}
	b.logger.Info("command bridge started", zap.String("subject", subject))
	return nil
}

// PublishTransition emits a state-change event. Wire it to the controller's
// OnTransition hook.
func (b *Bridge) PublishTransition(sessionID string, from, to workflow.State) {
	data, err := json.Marshal(TransitionEvent{
		Session: sessionID,
		From:    string(from),
		To:      string(to),
	})
	if err != nil {
		return
	}
	if err := b.conn.Publish(b.base+".events.transition", data); err != nil {
		b.logger.Warn("publishing transition event", zap.Error(err))
	}
}

// Handle dispatches one command message by its subject suffix.
func (b *Bridge) Handle(msg *nats.Msg) {
	cmd := strings.TrimPrefix(msg.Subject, b.base+".cmd.")
	err := b.dispatch(context.Background(), cmd, msg.Data)
	if err != nil {
		b.logger.Warn("command failed",
			zap.String("command", cmd),
			zap.Error(err))
	}
	if msg.Reply == "" {
		return
	}
	r := reply{OK: err == nil}
	if err != nil {
		r.Error = err.Error()
	}
	data, merr := json.Marshal(r)
	if merr != nil {
		return
	}
	if perr := b.conn.Publish(msg.Reply, data); perr != nil {
		b.logger.Warn("publishing command reply", zap.Error(perr))
	}
}

func (b *Bridge) dispatch(ctx context.Context, cmd string, data []byte) error {
	switch cmd {
	case "regenerate":
		var c RegenerateCmd
		if err := json.Unmarshal(data, &c); err != nil {
			return fmt.Errorf("decoding regenerate command: %w", err)
		}
		return b.engine.Regenerate(ctx, workflow.Stage(c.Stage))
	case "credentials":
		var c CredentialsCmd
		if err := json.Unmarshal(data, &c); err != nil {
			return fmt.Errorf("decoding credentials command: %w", err)
		}
		return b.engine.SupplyCredentials(ctx, c.Target, credential.Values(c.Values))
	case "confirm":
		var c ConfirmCmd
		if err := json.Unmarshal(data, &c); err != nil {
			return fmt.Errorf("decoding confirm command: %w", err)
		}
		return b.engine.Confirm(c.Term)
	case "correct":
		var c CorrectCmd
		if err := json.Unmarshal(data, &c); err != nil {
			return fmt.Errorf("decoding correct command: %w", err)
		}
		return b.engine.Correct(c.Term, c.Answer)
	case "retry":
		return b.engine.Retry(ctx)
	}
	return fmt.Errorf("unknown command %q", cmd)
}
