// Package engine composes the conversational decision pipeline: dedupe →
// session → decision/extraction fan-out → validation → guard chain → FSM
// commit → persist → send → mark processed.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tidelane/convocore/internal/bus"
	"github.com/tidelane/convocore/internal/content"
	"github.com/tidelane/convocore/internal/decision"
	"github.com/tidelane/convocore/internal/dedupe"
	"github.com/tidelane/convocore/internal/fsm"
	"github.com/tidelane/convocore/internal/guard"
	"github.com/tidelane/convocore/internal/observability"
	"github.com/tidelane/convocore/internal/profile"
	"github.com/tidelane/convocore/internal/session"
	"github.com/tidelane/convocore/internal/store"
	"github.com/tidelane/convocore/internal/tracing"
	"github.com/tidelane/convocore/internal/validator"
)

// Outcome statuses.
const (
	StatusProcessed = "processed"
	StatusDuplicate = "duplicate"
	StatusNotSent   = "not_sent"
)

// Outcome summarizes one processed message for callers and tests.
type Outcome struct {
	Status           string
	Reply            bus.OutboundPayload
	State            fsm.State
	GuardFired       string
	ValidationReason string
}

// Engine drives one inbound message end to end. One message is handled by
// one task; many tasks run concurrently. The engine holds no cross-request
// locks — the stores provide their own atomicity.
type Engine struct {
	gate      *dedupe.Gate
	sessions  *session.Manager
	agent     *decision.Agent
	extractor decision.Extractor
	validator *validator.Validator
	guards    *guard.Chain
	catalog   *content.Cache
	profiles  store.ProfileStore
	turns     store.TurnStore
	audit     store.AuditStore
	senders   map[string]bus.Sender
	tasks     *TaskGroup

	fanOutTimeout time.Duration
	now           func() time.Time
	log           *slog.Logger
}

// Config wires an Engine. Senders maps channel names to live senders.
type Config struct {
	Gate      *dedupe.Gate
	Sessions  *session.Manager
	Agent     *decision.Agent
	Extractor decision.Extractor
	Validator *validator.Validator
	Guards    *guard.Chain
	Catalog   *content.Cache
	Profiles  store.ProfileStore
	Turns     store.TurnStore
	Audit     store.AuditStore
	Senders   map[string]bus.Sender
	Tasks     *TaskGroup

	FanOutTimeout time.Duration
	Clock         func() time.Time
	Logger        *slog.Logger
}

func New(cfg Config) *Engine {
	if cfg.FanOutTimeout <= 0 {
		cfg.FanOutTimeout = decision.DefaultTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tasks == nil {
		cfg.Tasks = NewTaskGroup(cfg.Logger)
	}
	return &Engine{
		gate:          cfg.Gate,
		sessions:      cfg.Sessions,
		agent:         cfg.Agent,
		extractor:     cfg.Extractor,
		validator:     cfg.Validator,
		guards:        cfg.Guards,
		catalog:       cfg.Catalog,
		profiles:      cfg.Profiles,
		turns:         cfg.Turns,
		audit:         cfg.Audit,
		senders:       cfg.Senders,
		tasks:         cfg.Tasks,
		fanOutTimeout: cfg.FanOutTimeout,
		now:           cfg.Clock,
		log:           cfg.Logger,
	}
}

// Tasks exposes the background group so the composition root can drain it
// on shutdown.
func (e *Engine) Tasks() *TaskGroup { return e.tasks }

// Process handles one inbound message. Infrastructure errors propagate
// (after releasing the processing claim) so the channel can redeliver;
// every other failure resolves into the fixed safe handoff behavior.
func (e *Engine) Process(ctx context.Context, msg bus.InboundMessage) (*Outcome, error) {
	started := e.now()
	ctx, span := tracing.StartSpan(ctx, "engine.process",
		attribute.String("channel", msg.Channel),
		attribute.String("tenant", msg.Tenant),
	)
	defer span.End()

	// Idempotency: either marker means another worker owns this message.
	dup, err := e.gate.IsDuplicate(ctx, msg.MessageID)
	if err != nil {
		return nil, err
	}
	if dup {
		observability.MessagesProcessed.WithLabelValues(StatusDuplicate).Inc()
		return &Outcome{Status: StatusDuplicate}, nil
	}
	claimed, err := e.gate.MarkProcessing(ctx, msg.MessageID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		observability.MessagesProcessed.WithLabelValues(StatusDuplicate).Inc()
		return &Outcome{Status: StatusDuplicate}, nil
	}

	outcome, err := e.process(ctx, msg)
	if err != nil {
		// Release the claim so a redelivery can retry.
		e.gate.UnmarkProcessing(ctx, msg.MessageID)
		observability.MessagesProcessed.WithLabelValues("error").Inc()
		e.appendAudit(ctx, msg, "", "recovery", "infra_error", map[string]string{"error": err.Error()})
		return nil, err
	}

	if err := e.gate.MarkProcessed(ctx, msg.MessageID); err != nil {
		// The conversation already advanced; a failed completion marker is
		// logged, not fatal.
		e.log.Warn("engine.mark_processed_failed", "message_id", msg.MessageID, "error", err)
	}

	observability.MessagesProcessed.WithLabelValues(outcome.Status).Inc()
	observability.ProcessingDuration.Observe(e.now().Sub(started).Seconds())
	return outcome, nil
}

// process runs the pipeline after the idempotency claim is held.
func (e *Engine) process(ctx context.Context, msg bus.InboundMessage) (*Outcome, error) {
	senderHash := session.HashSender(msg.SenderID)

	sess, err := e.sessions.Resolve(ctx, msg.Tenant, senderHash)
	if err != nil {
		return nil, fmt.Errorf("resolve session: %w", err)
	}

	catalog := e.catalog.Catalog()
	track := catalog.Track(sess.Context.Track)

	req := decision.Request{
		Message:        msg.Text,
		CurrentState:   sess.State,
		History:        sess.History,
		ProfileSummary: sess.Card.Summary(),
		ValidNext:      fsm.ValidNext(sess.State),
		DynamicContext: catalog.DynamicContext,
	}

	// Decision and extraction fan out concurrently; the join waits for the
	// decision unconditionally and for extraction only up to the bound.
	fanCtx, span := tracing.StartSpan(ctx, "engine.fanout")
	decideStart := e.now()
	fan := decision.FanOut(fanCtx, e.agent, e.extractor, req, e.fanOutTimeout, e.log)
	span.End()
	observability.DecisionDuration.Observe(e.now().Sub(decideStart).Seconds())
	if fan.Decision.Rationale == "fallback" {
		observability.DecisionFallbacks.Inc()
	}
	if fan.Patch == nil && e.extractor != nil {
		observability.ExtractionSkipped.Inc()
	}

	fieldCaptured := e.applyExtraction(ctx, msg, sess, fan.Patch)

	// Sufficiency is judged after this turn's extraction has landed on the
	// card, so a qualifying answer counts toward progressing.
	req.TrackReady = track.Ready(sess.Card)

	// Validation gates.
	finalDec, vres := e.validator.Validate(ctx, fan.Decision, req)
	if !vres.Approved {
		observability.GateRejections.WithLabelValues(vres.Reason).Inc()
		e.appendAudit(ctx, msg, senderHash, "decision", vres.Reason, nil)
	}

	// Guard chain, only with a known ContactCard.
	gres := e.guards.Run(finalDec, guard.Context{
		Card:          sess.Card,
		Track:         track,
		LastUserText:  msg.Text,
		FieldCaptured: fieldCaptured,
	})
	finalDec = gres.Decision
	if gres.FiredBy != "" {
		observability.GuardFired.WithLabelValues(gres.FiredBy).Inc()
		e.appendAudit(ctx, msg, senderHash, "guard", gres.FiredBy, nil)
	}

	// FSM commit. An unrecognized or illegal target falls back to the
	// current state — logged, never raised.
	machine := fsm.New(sess.State)
	if ok, reason := machine.Transition(finalDec.NextState, "decision", map[string]string{"message_id": msg.MessageID}, finalDec.Confidence); ok {
		observability.FSMTransitions.WithLabelValues("committed").Inc()
		e.appendAudit(ctx, msg, senderHash, "transition", "committed", map[string]string{
			"from": string(sess.State), "to": string(finalDec.NextState),
		})
		sess.State = machine.Current()
	} else {
		observability.FSMTransitions.WithLabelValues("rejected").Inc()
		e.log.Info("engine.transition_rejected",
			"from", string(sess.State), "to", string(finalDec.NextState), "reason", reason)
		e.appendAudit(ctx, msg, senderHash, "transition", reason, map[string]string{
			"from": string(sess.State), "to": string(finalDec.NextState),
		})
	}

	// Record the turn and persist before dispatch so a send retry never
	// loses conversation state.
	now := e.now()
	sess.RecordTurn(msg.Text, finalDec.ResponseText, now)
	if err := e.sessions.Persist(ctx, sess); err != nil {
		return nil, err
	}

	// Long-term history is off the critical path; drained on shutdown.
	turns := []store.Turn{
		{Role: "user", Text: msg.Text, At: now},
		{Role: "assistant", Text: finalDec.ResponseText, At: now},
	}
	e.tasks.Go("persist_turns", func(bg context.Context) {
		if err := e.turns.Append(bg, msg.Tenant, senderHash, turns); err != nil {
			e.log.Warn("engine.turn_persist_failed", "sender", senderHash, "error", err)
		}
	})

	payload := bus.BuildPayload(msg, finalDec.ResponseText, finalDec.MessageType)
	status := e.dispatch(ctx, msg, payload)
	if status == "" {
		// Correctness-affecting send failure: propagate so the processing
		// marker rolls back and the channel redelivers.
		return nil, fmt.Errorf("dispatch %s: %w", msg.MessageID, store.ErrUnavailable)
	}

	if fsm.IsTerminal(sess.State) {
		if err := e.sessions.Close(ctx, sess); err != nil {
			e.log.Warn("engine.session_close_failed", "sender", senderHash, "error", err)
		}
	}

	return &Outcome{
		Status:           status,
		Reply:            payload,
		State:            sess.State,
		GuardFired:       gres.FiredBy,
		ValidationReason: vres.Reason,
	}, nil
}

// applyExtraction merges the patch into the session card and upserts the
// authoritative profile. Returns whether any field changed this turn.
func (e *Engine) applyExtraction(ctx context.Context, msg bus.InboundMessage, sess *session.Session, patch *profile.ExtractionPatch) bool {
	if patch == nil {
		return false
	}
	if sess.Card == nil {
		sess.Card = &profile.ContactCard{CreatedAt: e.now()}
	}
	touched := profile.Merge(sess.Card, patch, e.now())
	if len(touched) == 0 {
		return false
	}
	if sess.Card.Track != "" {
		sess.Context.Track = sess.Card.Track
	}
	senderHash := session.HashSender(msg.SenderID)
	if err := e.profiles.Upsert(ctx, msg.Tenant, senderHash, sess.Card); err != nil {
		e.log.Warn("engine.profile_upsert_failed", "sender", senderHash, "error", err)
	}
	e.appendAudit(ctx, msg, senderHash, "decision", "fields_extracted", map[string]string{
		"fields": fmt.Sprintf("%v", touched),
	})
	return true
}

// dispatch sends the payload. Returns the outcome status, or "" for an
// infrastructure failure that must roll the idempotency marker back.
func (e *Engine) dispatch(ctx context.Context, msg bus.InboundMessage, payload bus.OutboundPayload) string {
	sender, ok := e.senders[payload.Channel]
	if !ok {
		e.log.Error("engine.no_sender", "channel", payload.Channel)
		return StatusNotSent
	}

	ctx, span := tracing.StartSpan(ctx, "engine.send", attribute.String("channel", payload.Channel))
	defer span.End()

	res, err := sender.Send(ctx, payload)
	switch {
	case err == nil && res.Sent:
		return StatusProcessed
	case store.IsInfra(err):
		e.log.Error("engine.send_infra_error", "channel", payload.Channel, "error", err)
		return ""
	default:
		// The conversation state already advanced; a redelivery would be a
		// true duplicate, so the message still counts as handled.
		e.log.Warn("engine.send_failed", "channel", payload.Channel, "error", err, "detail", res.Err)
		return StatusNotSent
	}
}

func (e *Engine) appendAudit(ctx context.Context, msg bus.InboundMessage, senderHash, kind, reason string, detail map[string]string) {
	rec := store.AuditRecord{
		ID:         uuid.NewString(),
		Tenant:     msg.Tenant,
		SenderHash: senderHash,
		MessageID:  msg.MessageID,
		Kind:       kind,
		Reason:     reason,
		Detail:     detail,
		At:         e.now(),
	}
	if err := e.audit.Append(ctx, rec); err != nil {
		e.log.Warn("engine.audit_append_failed", "kind", kind, "reason", reason, "error", err)
	}
}
