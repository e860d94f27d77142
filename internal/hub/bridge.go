package hub

import (
	"context"
	"encoding/json"
	"log"

	"github.com/railtms/core/shared/railway"
)

// StartBridge subscribes to the cross-instance channels and dispatches
// each incoming message through the matching local broadcast. It runs
// until ctx is canceled or the subscription itself fails; a supervisor
// may relaunch it (7. Pub/sub listener error).
func (h *Hub) StartBridge(ctx context.Context) error {
	if h.bus == nil {
		return nil
	}
	messages, err := h.bus.Subscribe(ctx, railway.ChannelPositions, railway.ChannelConflicts, railway.ChannelSystem)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			h.dispatchBridged(msg.Channel, msg.Payload)
		}
		log.Println("hub: cross-instance bridge listener exited")
	}()
	return nil
}

func (h *Hub) dispatchBridged(channel string, payload []byte) {
	switch channel {
	case railway.ChannelPositions:
		var update railway.PositionUpdate
		if err := json.Unmarshal(payload, &update); err != nil {
			log.Printf("hub: bridge: bad position payload: %v", err)
			return
		}
		h.BroadcastPositionUpdate(update)
	case railway.ChannelConflicts:
		var alert railway.ConflictAlert
		if err := json.Unmarshal(payload, &alert); err != nil {
			log.Printf("hub: bridge: bad conflict payload: %v", err)
			return
		}
		h.BroadcastConflictAlert(alert)
	case railway.ChannelSystem:
		var status railway.SystemStatus
		if err := json.Unmarshal(payload, &status); err != nil {
			log.Printf("hub: bridge: bad status payload: %v", err)
			return
		}
		h.BroadcastSystemStatus(status)
	}
}
