package hub

import "github.com/railtms/core/shared/railway"

// BroadcastPositionUpdate delivers to all_subscribers ∪ by_train[train]
// ∪ by_section[section].
func (h *Hub) BroadcastPositionUpdate(update railway.PositionUpdate) {
	targets := h.unionTargets(withAll, withTrain(update.TrainID), withSection(update.Position.SectionID))
	h.fanOut(targets, railway.MsgPositionUpdate, update)
}

// BroadcastConflictAlert delivers to all_subscribers.
func (h *Hub) BroadcastConflictAlert(alert railway.ConflictAlert) {
	targets := h.unionTargets(withAll)
	h.fanOut(targets, railway.MsgConflictAlert, alert)
}

// BroadcastAIUpdate delivers to ai_subscribers ∪ all_subscribers ∪
// (by_train[train] if present) ∪ (by_section[section] if present).
func (h *Hub) BroadcastAIUpdate(data interface{}, trainID, sectionID *int) {
	opts := []targetOption{withAISubscribers, withAll}
	if trainID != nil {
		opts = append(opts, withTrain(*trainID))
	}
	if sectionID != nil {
		opts = append(opts, withSection(*sectionID))
	}
	h.fanOut(h.unionTargets(opts...), railway.MsgAIUpdate, data)
}

// BroadcastAITrainingUpdate delivers to ai_training_subscribers ∪
// all_subscribers.
func (h *Hub) BroadcastAITrainingUpdate(data interface{}) {
	targets := h.unionTargets(withAITraining, withAll)
	h.fanOut(targets, railway.MsgAITrainingUpdate, data)
}

// BroadcastSystemStatus delivers to all_subscribers.
func (h *Hub) BroadcastSystemStatus(status railway.SystemStatus) {
	targets := h.unionTargets(withAll)
	h.fanOut(targets, railway.MsgSystemStatus, status)
}

type targetOption func(h *Hub, out map[railway.ConnectionID]bool)

func withAll(h *Hub, out map[railway.ConnectionID]bool) {
	for id := range h.allSubscribers {
		out[id] = true
	}
}

func withAISubscribers(h *Hub, out map[railway.ConnectionID]bool) {
	for id := range h.aiSubscribers {
		out[id] = true
	}
}

func withAITraining(h *Hub, out map[railway.ConnectionID]bool) {
	for id := range h.aiTrainingSubscribers {
		out[id] = true
	}
}

func withTrain(trainID int) targetOption {
	return func(h *Hub, out map[railway.ConnectionID]bool) {
		for id := range h.byTrain[trainID] {
			out[id] = true
		}
	}
}

func withSection(sectionID int) targetOption {
	return func(h *Hub, out map[railway.ConnectionID]bool) {
		for id := range h.bySection[sectionID] {
			out[id] = true
		}
	}
}

func (h *Hub) unionTargets(opts ...targetOption) map[railway.ConnectionID]bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make(map[railway.ConnectionID]bool)
	for _, opt := range opts {
		opt(h, out)
	}
	return out
}

func (h *Hub) fanOut(targets map[railway.ConnectionID]bool, msgType string, data interface{}) {
	for id := range targets {
		h.sendToID(id, msgType, data)
	}
}

// Stats is the hub's connection_stats() snapshot.
type Stats struct {
	TotalSessions       int
	TrainSubscriptions  int
	SectionSubscriptions int
	AllSubscribers      int
	AISubscribers       int
	AITrainingSubscribers int
}

// ConnectionStats returns the current registry size and subscription
// index sizes.
func (h *Hub) ConnectionStats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return Stats{
		TotalSessions:        len(h.sessions),
		TrainSubscriptions:   len(h.byTrain),
		SectionSubscriptions: len(h.bySection),
		AllSubscribers:       len(h.allSubscribers),
		AISubscribers:        len(h.aiSubscribers),
		AITrainingSubscribers: len(h.aiTrainingSubscribers),
	}
}
