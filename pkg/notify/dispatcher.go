// Package notify turns confirmed message arrivals into unread-counter
// updates and notification events for recipients who are not looking at
// the conversation.
package notify

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"convo/pkg/logger"
	"convo/pkg/models"
	"convo/pkg/registry"
	"convo/pkg/store"
)

var (
	notificationsEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "convo_notifications_emitted_total",
		Help: "Notification events delivered to subscribers.",
	})
	notificationsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "convo_notifications_dropped_total",
		Help: "Notification events dropped because a subscriber was slow.",
	})
	notificationsSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "convo_notifications_suppressed_total",
		Help: "Arrivals with the recipient actively viewing the conversation.",
	})
	unreadIncrements = promauto.NewCounter(prometheus.CounterOpts{
		Name: "convo_unread_increments_total",
		Help: "Unread counter bumps on message arrival.",
	})
)

const subscriberBuffer = 64

// Dispatcher observes confirmed messages and fans notification events out
// to subscribers. Subscribers that fall behind lose events (with a
// counter bump) rather than stalling the confirm path.
type Dispatcher struct {
	reg   *registry.Registry
	store *store.Store

	mu      sync.Mutex
	subs    map[int]chan models.Notification
	nextSub int
}

// New builds a Dispatcher over the registry (for active-view checks) and
// the store (for unread counters).
func New(reg *registry.Registry, st *store.Store) *Dispatcher {
	return &Dispatcher{reg: reg, store: st, subs: map[int]chan models.Notification{}}
}

// MessageConfirmed handles a Confirmed transition for a message. When the
// recipient does not have the conversation active, their unread counter
// is bumped and a notification event fires. An actively-viewing recipient
// gets neither: they can already see the message arrive.
func (d *Dispatcher) MessageConfirmed(conv *models.Conversation, m *models.Message) {
	recipient, ok := conv.Other(m.Sender)
	if !ok {
		logger.Warn("confirmed_message_without_recipient", "conv", conv.ID, "msg", m.ID)
		return
	}
	if d.reg.ActiveConversation(recipient.UserID) == conv.ID {
		notificationsSuppressed.Inc()
		return
	}
	if _, err := d.store.IncrementUnread(conv.ID, recipient.UserID); err != nil {
		logger.Error("unread_increment_failed", "conv", conv.ID, "user", recipient.UserID, "error", err)
	} else {
		unreadIncrements.Inc()
	}
	d.emit(models.Notification{
		Recipient:    recipient.UserID,
		Conversation: conv.ID,
		SenderName:   m.SenderName,
		Preview:      m.Content.Preview(),
		TS:           time.Now().UTC().UnixNano(),
	})
}

func (d *Dispatcher) emit(n models.Notification) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, ch := range d.subs {
		select {
		case ch <- n:
			notificationsEmitted.Inc()
		default:
			notificationsDropped.Inc()
			logger.Warn("notification_dropped", "subscriber", id, "conv", n.Conversation)
		}
	}
}

// Subscribe registers a notification channel and returns its id plus the
// receive side. The channel is buffered; slow consumers drop events.
func (d *Dispatcher) Subscribe() (int, <-chan models.Notification) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextSub
	d.nextSub++
	ch := make(chan models.Notification, subscriberBuffer)
	d.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (d *Dispatcher) Unsubscribe(id int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ch, ok := d.subs[id]; ok {
		delete(d.subs, id)
		close(ch)
	}
}
