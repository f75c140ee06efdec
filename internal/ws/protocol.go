package ws

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Upstream message types for internal routing
type (
	joinGroupRequest struct {
		group string
		ackID *uint64
	}
	leaveGroupRequest struct {
		group string
		ackID *uint64
	}
	pingRequest struct{}
)

type upstreamMessage struct {
	Type  string  `json:"type"`
	Group string  `json:"group"`
	AckID *uint64 `json:"ackId,omitempty"`
}

type connectedMessage struct {
	Type         string `json:"type"`
	Event        string `json:"event"`
	ConnectionID string `json:"connectionId"`
}

type ackMessage struct {
	Type    string `json:"type"`
	AckID   uint64 `json:"ackId"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// DataMessage carries one metrics record to a group.
type DataMessage struct {
	Type  string          `json:"type"`
	Group string          `json:"group"`
	Data  json.RawMessage `json:"data"`
}

// GroupFor returns the group name clients join to follow symbol.
func GroupFor(symbol string) string {
	return "gex_" + strings.ToUpper(symbol)
}

func isValidGroup(group string) bool {
	sym, ok := strings.CutPrefix(group, "gex_")
	return ok && sym != "" && len(sym) <= 10 && sym == strings.ToUpper(sym)
}

func buildConnectedMessage(connectionID string) []byte {
	data, _ := json.Marshal(connectedMessage{Type: "system", Event: "connected", ConnectionID: connectionID})
	return data
}

func buildAckMessage(ackID uint64, success bool, reason string) []byte {
	data, _ := json.Marshal(ackMessage{Type: "ack", AckID: ackID, Success: success, Error: reason})
	return data
}

func buildDataMessage(group string, payload json.RawMessage) []byte {
	data, _ := json.Marshal(DataMessage{Type: "message", Group: group, Data: payload})
	return data
}

func buildPongMessage() []byte {
	return []byte(`{"type":"pong"}`)
}

// parseUpstreamMessage parses a JSON upstream message.
func parseUpstreamMessage(data []byte) (any, error) {
	var msg upstreamMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal upstream message: %w", err)
	}

	switch msg.Type {
	case "joinGroup":
		return &joinGroupRequest{group: msg.Group, ackID: msg.AckID}, nil
	case "leaveGroup":
		return &leaveGroupRequest{group: msg.Group, ackID: msg.AckID}, nil
	case "ping":
		return &pingRequest{}, nil
	default:
		return nil, fmt.Errorf("unknown message type: %s", msg.Type)
	}
}
