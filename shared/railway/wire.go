package railway

import "time"

// ConnectionEstablished is the welcome message sent on connect.
type ConnectionEstablished struct {
	ConnectionID          ConnectionID `json:"connection_id"`
	Authenticated         bool         `json:"authenticated"`
	ServerTime            time.Time    `json:"server_time"`
	AvailableSubscriptions []string    `json:"available_subscriptions"`
}

// SubscriptionConfirmed echoes the scope that was just subscribed to.
type SubscriptionConfirmed struct {
	Scope   SubscriptionScope `json:"scope"`
	TrainID *int              `json:"train_id,omitempty"`
	SectionID *int            `json:"section_id,omitempty"`
}

// Coordinates is an optional lat/lon/alt triple on a position update.
type Coordinates struct {
	Lat float64  `json:"lat"`
	Lon float64  `json:"lon"`
	Alt *float64 `json:"alt,omitempty"`
}

// PositionPayload is the `position` field of a position_update message.
type PositionPayload struct {
	SectionID   int          `json:"section_id"`
	Coordinates *Coordinates `json:"coordinates,omitempty"`
	SpeedKmh    float64      `json:"speed_kmh"`
	Heading     float64      `json:"heading"`
	Timestamp   time.Time    `json:"timestamp"`
}

// PositionUpdate is the broadcast_position_update payload.
type PositionUpdate struct {
	TrainID    int             `json:"train_id"`
	TrainNumber string         `json:"train_number"`
	TrainType  TrainKind       `json:"train_type"`
	Position   PositionPayload `json:"position"`
}

// ConflictAlert is the broadcast_conflict_alert payload.
type ConflictAlert struct {
	ConflictID            int64        `json:"conflict_id"`
	Type                  ConflictType `json:"type"`
	Severity              float64      `json:"severity"`
	TrainsInvolved        []int        `json:"trains_involved"`
	SectionsInvolved      []int        `json:"sections_involved"`
	TimeToImpact          float64      `json:"time_to_impact"`
	Description           string       `json:"description"`
	ResolutionSuggestions []string     `json:"resolution_suggestions"`
}

// SystemStatus is an arbitrary scheduler+detector stats snapshot.
type SystemStatus map[string]interface{}

// Pong replies to a ping with server time.
type Pong struct {
	Timestamp time.Time `json:"timestamp"`
}

// ErrorPayload carries a single message field for malformed/unknown
// client messages.
type ErrorPayload struct {
	Message string `json:"message"`
}

// ClientMessage is an inbound message from a connected client.
type ClientMessage struct {
	Type      string `json:"type"`
	TrainID   *int   `json:"train_id,omitempty"`
	SectionID *int   `json:"section_id,omitempty"`
}

// Client message type constants (4.E dispatch table).
const (
	MsgSubscribeTrain        = "subscribe_train"
	MsgUnsubscribeTrain      = "unsubscribe_train"
	MsgSubscribeSection      = "subscribe_section"
	MsgUnsubscribeSection    = "unsubscribe_section"
	MsgSubscribeAll          = "subscribe_all"
	MsgSubscribeAI           = "subscribe_ai"
	MsgUnsubscribeAI         = "unsubscribe_ai"
	MsgSubscribeAITraining   = "subscribe_ai_training"
	MsgUnsubscribeAITraining = "unsubscribe_ai_training"
	MsgPing                  = "ping"

	MsgConnectionEstablished  = "connection_established"
	MsgSubscriptionConfirmed  = "subscription_confirmed"
	MsgUnsubscriptionConfirmed = "unsubscription_confirmed"
	MsgPositionUpdate         = "position_update"
	MsgConflictAlert          = "conflict_alert"
	MsgSystemStatus           = "system_status"
	MsgPong                   = "pong"
	MsgError                  = "error"
	MsgAIUpdate               = "ai_optimization"
	MsgAITrainingUpdate       = "ai_training_update"
)

// Cross-instance pub/sub channel names.
const (
	ChannelPositions = "positions"
	ChannelConflicts = "conflicts"
	ChannelSystem    = "system"
)
