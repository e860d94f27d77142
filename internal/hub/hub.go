// Package hub implements the real-time fan-out hub (4.E): it accepts
// client sessions, tracks their subscriptions, delivers messages
// matching each session's filter, and bridges broadcasts across
// instances via the pub/sub port.
package hub

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/railtms/core/internal/pubsub"
	"github.com/railtms/core/shared/railway"
)

// sendBuffer is how many pending outbound messages a session's writer
// goroutine will queue before a slow client starts dropping sends.
const sendBuffer = 16

// clientSession is the hub's exclusive owner of one connected client
// for its lifetime.
type clientSession struct {
	id        railway.ConnectionID
	transport Transport
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (s *clientSession) enqueue(payload []byte) {
	select {
	case s.send <- payload:
	default:
		// Best-effort, at-most-once: a full buffer drops this message
		// without disconnecting the session (only a failed write in the
		// writer pump disconnects), and the broadcaster never blocks.
	}
}

// Hub is the session registry and subscription index described in
// 4.E. All mutations funnel through its mutex; it is the single
// logical writer the spec calls for.
type Hub struct {
	bus pubsub.PubSub

	mu                    sync.RWMutex
	sessions              map[railway.ConnectionID]*clientSession
	byTrain               map[int]map[railway.ConnectionID]bool
	bySection             map[int]map[railway.ConnectionID]bool
	allSubscribers        map[railway.ConnectionID]bool
	aiSubscribers         map[railway.ConnectionID]bool
	aiTrainingSubscribers map[railway.ConnectionID]bool
}

// New builds an empty Hub. bus may be nil if the cross-instance
// bridge is not needed (e.g. in tests).
func New(bus pubsub.PubSub) *Hub {
	return &Hub{
		bus:                   bus,
		sessions:              make(map[railway.ConnectionID]*clientSession),
		byTrain:               make(map[int]map[railway.ConnectionID]bool),
		bySection:             make(map[int]map[railway.ConnectionID]bool),
		allSubscribers:        make(map[railway.ConnectionID]bool),
		aiSubscribers:         make(map[railway.ConnectionID]bool),
		aiTrainingSubscribers: make(map[railway.ConnectionID]bool),
	}
}

// Connect registers a new session over the given transport, starts
// its writer pump, and sends the welcome message. The caller is
// expected to then drive ReadLoop (typically in its own goroutine)
// until it returns.
func (h *Hub) Connect(t Transport) *clientSession {
	sess := &clientSession{
		id:        railway.NewConnectionID(),
		transport: t,
		send:      make(chan []byte, sendBuffer),
		done:      make(chan struct{}),
	}

	h.mu.Lock()
	h.sessions[sess.id] = sess
	h.mu.Unlock()

	go h.writePump(sess)

	welcome := railway.ConnectionEstablished{
		ConnectionID:  sess.id,
		Authenticated: true,
		ServerTime:    time.Now(),
		AvailableSubscriptions: []string{
			railway.MsgSubscribeTrain, railway.MsgSubscribeSection,
			railway.MsgSubscribeAll, railway.MsgSubscribeAI, railway.MsgSubscribeAITraining,
		},
	}
	h.sendTo(sess, railway.MsgConnectionEstablished, welcome)

	return sess
}

// ReadLoop blocks reading messages from the session until its
// transport errors or closes, dispatching each to
// HandleClientMessage. It always disconnects the session on return.
func (h *Hub) ReadLoop(sess *clientSession) {
	defer h.Disconnect(sess.id)
	for {
		raw, err := sess.transport.ReceiveText()
		if err != nil {
			return
		}
		h.HandleClientMessage(sess.id, raw)
	}
}

func (h *Hub) writePump(sess *clientSession) {
	for {
		select {
		case payload := <-sess.send:
			if err := sess.transport.SendText(payload); err != nil {
				h.Disconnect(sess.id)
				return
			}
		case <-sess.done:
			return
		}
	}
}

// Disconnect removes the session from every subscription index.
// Idempotent.
func (h *Hub) Disconnect(id railway.ConnectionID) {
	h.mu.Lock()
	sess, ok := h.sessions[id]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.sessions, id)
	delete(h.allSubscribers, id)
	delete(h.aiSubscribers, id)
	delete(h.aiTrainingSubscribers, id)
	for _, set := range h.byTrain {
		delete(set, id)
	}
	for _, set := range h.bySection {
		delete(set, id)
	}
	h.mu.Unlock()

	sess.closeOnce.Do(func() {
		close(sess.done)
		sess.transport.Close(1000, "disconnect")
	})
}

// HandleClientMessage dispatches an inbound client message on its
// type (4.E dispatch table).
func (h *Hub) HandleClientMessage(id railway.ConnectionID, raw []byte) {
	var msg railway.ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.replyError(id, "malformed message")
		return
	}

	switch msg.Type {
	case railway.MsgSubscribeTrain:
		h.toggleTrain(id, msg.TrainID, true)
	case railway.MsgUnsubscribeTrain:
		h.toggleTrain(id, msg.TrainID, false)
	case railway.MsgSubscribeSection:
		h.toggleSection(id, msg.SectionID, true)
	case railway.MsgUnsubscribeSection:
		h.toggleSection(id, msg.SectionID, false)
	case railway.MsgSubscribeAll:
		h.toggleSet(h.allSubscribers, id, true)
		h.confirm(id, railway.ScopeAll, nil, nil, true)
	case railway.MsgSubscribeAI:
		h.toggleSet(h.aiSubscribers, id, true)
		h.confirm(id, railway.ScopeAI, nil, nil, true)
	case railway.MsgUnsubscribeAI:
		h.toggleSet(h.aiSubscribers, id, false)
		h.confirm(id, railway.ScopeAI, nil, nil, false)
	case railway.MsgSubscribeAITraining:
		h.toggleSet(h.aiTrainingSubscribers, id, true)
		h.confirm(id, railway.ScopeAITraining, nil, nil, true)
	case railway.MsgUnsubscribeAITraining:
		h.toggleSet(h.aiTrainingSubscribers, id, false)
		h.confirm(id, railway.ScopeAITraining, nil, nil, false)
	case railway.MsgPing:
		h.sendToID(id, railway.MsgPong, railway.Pong{Timestamp: time.Now()})
	default:
		h.replyError(id, "unknown message type: "+msg.Type)
	}
}

func (h *Hub) toggleTrain(id railway.ConnectionID, trainID *int, subscribe bool) {
	if trainID == nil {
		h.replyError(id, "train_id required")
		return
	}
	h.mu.Lock()
	set, ok := h.byTrain[*trainID]
	if !ok {
		set = make(map[railway.ConnectionID]bool)
		h.byTrain[*trainID] = set
	}
	h.mu.Unlock()
	h.toggleSet(set, id, subscribe)
	h.confirm(id, railway.ScopeTrain, trainID, nil, subscribe)
}

func (h *Hub) toggleSection(id railway.ConnectionID, sectionID *int, subscribe bool) {
	if sectionID == nil {
		h.replyError(id, "section_id required")
		return
	}
	h.mu.Lock()
	set, ok := h.bySection[*sectionID]
	if !ok {
		set = make(map[railway.ConnectionID]bool)
		h.bySection[*sectionID] = set
	}
	h.mu.Unlock()
	h.toggleSet(set, id, subscribe)
	h.confirm(id, railway.ScopeSection, nil, sectionID, subscribe)
}

func (h *Hub) toggleSet(set map[railway.ConnectionID]bool, id railway.ConnectionID, add bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if add {
		set[id] = true
	} else {
		delete(set, id)
	}
}

func (h *Hub) confirm(id railway.ConnectionID, scope railway.SubscriptionScope, trainID, sectionID *int, subscribed bool) {
	payload := railway.SubscriptionConfirmed{Scope: scope, TrainID: trainID, SectionID: sectionID}
	msgType := railway.MsgSubscriptionConfirmed
	if !subscribed {
		msgType = railway.MsgUnsubscriptionConfirmed
	}
	h.sendToID(id, msgType, payload)
}

func (h *Hub) replyError(id railway.ConnectionID, message string) {
	h.sendToID(id, railway.MsgError, railway.ErrorPayload{Message: message})
}

func (h *Hub) sendToID(id railway.ConnectionID, msgType string, data interface{}) {
	h.mu.RLock()
	sess, ok := h.sessions[id]
	h.mu.RUnlock()
	if !ok {
		return
	}
	h.sendTo(sess, msgType, data)
}

func (h *Hub) sendTo(sess *clientSession, msgType string, data interface{}) {
	payload, err := json.Marshal(railway.Envelope{Type: msgType, Data: data, Timestamp: time.Now()})
	if err != nil {
		log.Printf("hub: marshal %s: %v", msgType, err)
		return
	}
	sess.enqueue(payload)
}
