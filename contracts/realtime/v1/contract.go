// Package v1 defines the Parley Realtime Protocol v1 contract.
//
// Clients depend on these names; changes must stay backward compatible within v1.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Inbound event types (client -> server).
const (
	TypeHeartbeat          = "heartbeat"
	TypeRequestOnlineUsers = "requestOnlineUsers"
	TypeTyping             = "typing"
	TypeStopTyping         = "stopTyping"
)

// Outbound event types (server -> client).
const (
	// TypeConnected is the first envelope of every session.
	TypeConnected = "connected"
	// TypeHeartbeatPong answers TypeHeartbeat.
	TypeHeartbeatPong = "heartbeat-pong"
	// TypeGetOnlineUsers carries the full online set, never a delta.
	TypeGetOnlineUsers = "getOnlineUsers"
	// TypeNewMessage is relayed to the receiver of a persisted message.
	TypeNewMessage = "newMessage"
	// TypeMessageDeleted is relayed to the receiver of a deleted message.
	TypeMessageDeleted = "messageDeleted"
	// TypeError is a generic error envelope.
	TypeError = "error"
)

// Call signaling types. All of them are relayed verbatim; only the "to" field is read.
const (
	TypeVideoCallOffer              = "video-call-offer"
	TypeVideoCallAnswer             = "video-call-answer"
	TypeVideoCallICECandidate       = "video-call-ice-candidate"
	TypeVideoCallRejected           = "video-call-rejected"
	TypeVideoCallEnded              = "video-call-ended"
	TypeVideoCallRequestRealOffer   = "video-call-request-real-offer"
	TypeVideoCallRealOffer          = "video-call-real-offer"
	TypeVideoCallRenegotiation      = "video-call-renegotiation"
	TypeVideoCallRenegotiationReply = "video-call-renegotiation-answer"

	// TypeVideoCallFailed is sent back to a caller whose offer target is unreachable.
	TypeVideoCallFailed = "video-call-failed"
)

// ReasonUserOffline is the wire reason for TypeVideoCallFailed.
const ReasonUserOffline = "User is offline"

var signalTypes = map[string]struct{}{
	TypeVideoCallOffer:              {},
	TypeVideoCallAnswer:             {},
	TypeVideoCallICECandidate:       {},
	TypeVideoCallRejected:           {},
	TypeVideoCallEnded:              {},
	TypeVideoCallRequestRealOffer:   {},
	TypeVideoCallRealOffer:          {},
	TypeVideoCallRenegotiation:      {},
	TypeVideoCallRenegotiationReply: {},
}

// IsSignalType reports whether typ is a call-signaling event relayed between peers.
func IsSignalType(typ string) bool {
	_, ok := signalTypes[typ]
	return ok
}

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an inbound Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeHeartbeat,
		TypeRequestOnlineUsers,
		TypeTyping,
		TypeStopTyping:
		return nil
	}
	if IsSignalType(e.Type) {
		return nil
	}
	return fmt.Errorf("unknown type: %q", e.Type)
}

// ---- Payloads ----

// ConnectedPayload tells the client who it is and how often to heartbeat.
type ConnectedPayload struct {
	UserID              string `json:"userId"`
	ConnID              string `json:"connId"`
	HeartbeatIntervalMS int64  `json:"heartbeatIntervalMs"`
}

// HeartbeatPongPayload answers a heartbeat.
type HeartbeatPongPayload struct {
	ServerTS time.Time `json:"serverTs"`
}

// TypingPayload is sent by a client that starts or stops typing.
type TypingPayload struct {
	ReceiverID string `json:"receiverId"`
}

// TypingNoticePayload is relayed to the receiver of a typing signal.
type TypingNoticePayload struct {
	SenderID string `json:"senderId"`
}

// SignalTarget is the only part of a signaling payload the server reads.
type SignalTarget struct {
	To string `json:"to"`
}

// SignalRelayPayload wraps an opaque signaling payload for the receiving peer.
type SignalRelayPayload struct {
	From    string          `json:"from"`
	Payload json.RawMessage `json:"payload"`
}

// CallFailedPayload explains why a call could not be placed.
type CallFailedPayload struct {
	To     string `json:"to"`
	Reason string `json:"reason"`
}

// MessagePayload mirrors a persisted direct message.
type MessagePayload struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"createdAt"`
}

// MessageDeletedPayload identifies a removed message.
type MessageDeletedPayload struct {
	MessageID string `json:"messageId"`
	SenderID  string `json:"senderId"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
