// Package reconcile drives the optimistic-send state machine: a message
// is appended locally the moment it is composed, submitted to the
// transport for confirmation, and then either swapped for its confirmed
// record or rolled back as if the send never happened.
package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"convo/pkg/logger"
	"convo/pkg/models"
	"convo/pkg/notify"
	"convo/pkg/store"
	"convo/pkg/transport"
	"convo/pkg/typing"
	"convo/pkg/utils"
	"convo/pkg/validation"
)

var (
	sendsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "convo_sends_accepted_total",
		Help: "Messages accepted into the optimistic send pipeline.",
	})
	sendsConfirmed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "convo_sends_confirmed_total",
		Help: "Optimistic messages confirmed by the transport.",
	})
	sendsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "convo_sends_failed_total",
		Help: "Optimistic messages rolled back after a failed submission.",
	})
	outboxDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "convo_outbox_depth",
		Help: "Submissions waiting for a confirmation attempt.",
	})
)

// SendFailure reports a rolled-back send. Always recoverable: the message
// is gone from the store and the caller may retry.
type SendFailure struct {
	Conversation string
	TempID       string
	Err          error
}

// Config tunes the engine.
type Config struct {
	ConfirmTimeout time.Duration
	OutboxCapacity int
	Workers        int
}

// Engine owns the Composed -> Optimistically Appended -> Confirmed/Failed
// lifecycle. Appends happen synchronously in Send, so one sender's
// messages in one conversation keep their call order; confirmations from
// different senders interleave by confirmation time.
type Engine struct {
	store      *store.Store
	typing     *typing.Coordinator
	dispatcher *notify.Dispatcher
	tr         transport.Transport

	outbox         *Outbox
	confirmTimeout time.Duration
	workers        int

	failures chan SendFailure
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New builds an Engine. Call Start to launch its workers.
func New(st *store.Store, tc *typing.Coordinator, d *notify.Dispatcher, tr transport.Transport, cfg Config) *Engine {
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 5 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &Engine{
		store:          st,
		typing:         tc,
		dispatcher:     d,
		tr:             tr,
		outbox:         NewOutbox(cfg.OutboxCapacity),
		confirmTimeout: cfg.ConfirmTimeout,
		workers:        cfg.Workers,
		failures:       make(chan SendFailure, 256),
		stop:           make(chan struct{}),
	}
}

// Start launches the confirmation workers.
func (e *Engine) Start() {
	for i := 0; i < e.workers; i++ {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.runWorker()
		}()
	}
}

// Stop shuts the workers down and drains the outbox. Sends issued after
// Stop fail with ErrQueueFull and roll their append back; they never
// panic. Idempotent.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stop)
		e.wg.Wait()
		e.outbox.CloseAndDrain()
	})
}

// Failures exposes rolled-back sends for user-facing surfacing (a retry
// toast, typically). The channel is buffered; it is never closed while
// the engine runs.
func (e *Engine) Failures() <-chan SendFailure { return e.failures }

// Send validates content, appends an optimistic message so the sender
// sees it without delay, and queues it for asynchronous confirmation.
// The returned id is the temporary one; completion is observed through
// store state transitions. Sending clears the sender's own typing state
// in the conversation.
func (e *Engine) Send(convID string, sender models.Participant, content models.Content) (string, error) {
	if err := validation.ValidateContent(content); err != nil {
		return "", err
	}
	conv, err := e.store.GetConversation(convID)
	if err != nil {
		return "", err
	}
	if !conv.Has(sender.UserID) {
		return "", fmt.Errorf("user %s is not a participant of %s", sender.UserID, convID)
	}

	e.typing.Clear(convID, sender.UserID)

	m := &models.Message{
		ID:         utils.GenTempID(),
		Sender:     sender.UserID,
		SenderName: sender.DisplayName,
		Content:    content,
		TS:         time.Now().UTC().UnixNano(),
		Pending:    true,
	}
	if _, err := e.store.Append(convID, m); err != nil {
		return "", err
	}

	payload, err := json.Marshal(m)
	if err != nil {
		_ = e.store.RemoveOptimistic(convID, m.ID)
		return "", fmt.Errorf("marshal message: %w", err)
	}
	if err := e.outbox.TryEnqueue(&Op{Conv: convID, TempID: m.ID, Payload: payload}); err != nil {
		// No capacity to ever confirm it; undo the append rather than
		// leave the message pending forever.
		_ = e.store.RemoveOptimistic(convID, m.ID)
		return "", err
	}
	sendsAccepted.Inc()
	outboxDepth.Set(float64(e.outbox.Len()))
	return m.ID, nil
}

func (e *Engine) runWorker() {
	for {
		select {
		case it, ok := <-e.outbox.Out():
			if !ok {
				return
			}
			func(it *Item) {
				defer it.Done()
				e.process(it.Op)
			}(it)
			outboxDepth.Set(float64(e.outbox.Len()))
		case <-e.stop:
			return
		}
	}
}

// process submits one optimistic message and applies the Confirmed or
// Failed transition. Submission happens outside every conversation lock.
func (e *Engine) process(op *Op) {
	var m models.Message
	if err := json.Unmarshal(op.Payload, &m); err != nil {
		logger.Error("outbox_invalid_payload", "conv", op.Conv, "temp", op.TempID, "error", err)
		e.fail(op.Conv, op.TempID, err)
		return
	}
	conv, err := e.store.GetConversation(op.Conv)
	if err != nil {
		logger.Error("outbox_conversation_missing", "conv", op.Conv, "error", err)
		e.fail(op.Conv, op.TempID, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.confirmTimeout)
	ack, err := e.tr.SubmitMessage(ctx, conv, &m)
	cancel()
	if err != nil {
		e.fail(op.Conv, op.TempID, err)
		return
	}

	confirmed := m
	confirmed.ID = ack.ID
	confirmed.TS = ack.TS
	confirmed.Pending = false
	if err := e.store.ReplaceOptimistic(op.TempID, &confirmed); err != nil {
		logger.Error("confirm_swap_failed", "conv", op.Conv, "temp", op.TempID, "error", err)
		e.fail(op.Conv, op.TempID, err)
		return
	}
	sendsConfirmed.Inc()
	logger.Info("send_confirmed", "conv", op.Conv, "temp", op.TempID, "msg", confirmed.ID)
	e.dispatcher.MessageConfirmed(conv, &confirmed)
}

// fail rolls the optimistic append back and surfaces the error.
func (e *Engine) fail(convID, tempID string, cause error) {
	if err := e.store.RemoveOptimistic(convID, tempID); err != nil {
		logger.Error("rollback_failed", "conv", convID, "temp", tempID, "error", err)
	}
	sendsFailed.Inc()
	logger.Warn("send_failed", "conv", convID, "temp", tempID, "error", cause)
	select {
	case e.failures <- SendFailure{Conversation: convID, TempID: tempID, Err: cause}:
	default:
		logger.Warn("failure_channel_full", "conv", convID, "temp", tempID)
	}
}
