package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// PacketKind is the decoded meaning of one websocket frame
type PacketKind int

const (
	PacketOpen PacketKind = iota
	PacketClose
	PacketPing
	PacketPong
	PacketNoop
	PacketConnect
	PacketDisconnect
	PacketEvent
	PacketAck
	PacketConnectError
)

var packetNames = map[PacketKind]string{
	PacketOpen:         "open",
	PacketClose:        "close",
	PacketPing:         "ping",
	PacketPong:         "pong",
	PacketNoop:         "noop",
	PacketConnect:      "connect",
	PacketDisconnect:   "disconnect",
	PacketEvent:        "event",
	PacketAck:          "ack",
	PacketConnectError: "connect_error",
}

func (k PacketKind) String() string {
	if s, ok := packetNames[k]; ok {
		return s
	}
	return fmt.Sprintf("packet(%d)", int(k))
}

// Packet is one Engine.IO frame, with the Socket.IO layer unwrapped for
// message frames.
type Packet struct {
	Kind PacketKind
	// Data is the raw payload: the open handshake JSON, the ping probe,
	// the connect payload, or the first event argument.
	Data json.RawMessage
	// Event is set for PacketEvent
	Event string
}

// OpenPayload is sent by the server right after the upgrade
type OpenPayload struct {
	SID          string `json:"sid"`
	PingInterval int    `json:"pingInterval"`
	PingTimeout  int    `json:"pingTimeout"`
	MaxPayload   int    `json:"maxPayload"`
}

// Deadline is how long to wait for the next frame before the link is
// considered dead.
func (o OpenPayload) Deadline() time.Duration {
	d := time.Duration(o.PingInterval+o.PingTimeout) * time.Millisecond
	if d <= 0 {
		return defaultDeadline
	}
	return d
}

const defaultDeadline = 60 * time.Second

var errEmptyPacket = errors.New("empty packet")

// Outgoing frames
var (
	framePong    = []byte("3")
	frameConnect = []byte("40")
)

// pongFrame answers a ping, echoing its payload in a new slice
func pongFrame(data []byte) []byte {
	frame := make([]byte, 0, len(framePong)+len(data))
	frame = append(frame, framePong...)
	return append(frame, data...)
}

// ParsePacket decodes a text frame
func ParsePacket(msg []byte) (Packet, error) {
	if len(msg) == 0 {
		return Packet{}, errEmptyPacket
	}
	body := msg[1:]
	switch msg[0] {
	case '0':
		return Packet{Kind: PacketOpen, Data: json.RawMessage(body)}, nil
	case '1':
		return Packet{Kind: PacketClose}, nil
	case '2':
		return Packet{Kind: PacketPing, Data: json.RawMessage(body)}, nil
	case '3':
		return Packet{Kind: PacketPong, Data: json.RawMessage(body)}, nil
	case '6':
		return Packet{Kind: PacketNoop}, nil
	case '4':
		return parseMessage(body)
	}
	return Packet{}, fmt.Errorf("unknown engine.io packet type %q", msg[0])
}

func parseMessage(body []byte) (Packet, error) {
	if len(body) == 0 {
		return Packet{}, errEmptyPacket
	}
	rest := stripNamespace(string(body[1:]))
	switch body[0] {
	case '0':
		return Packet{Kind: PacketConnect, Data: json.RawMessage(rest)}, nil
	case '1':
		return Packet{Kind: PacketDisconnect}, nil
	case '2':
		return parseEvent(rest)
	case '3':
		return Packet{Kind: PacketAck}, nil
	case '4':
		return Packet{Kind: PacketConnectError, Data: json.RawMessage(rest)}, nil
	}
	return Packet{}, fmt.Errorf("unknown socket.io packet type %q", body[0])
}

// stripNamespace drops a leading "/nsp," and any ack id before the JSON
func stripNamespace(s string) string {
	if strings.HasPrefix(s, "/") {
		if i := strings.IndexByte(s, ','); i >= 0 {
			s = s[i+1:]
		} else {
			return ""
		}
	}
	return strings.TrimLeft(s, "0123456789")
}

func parseEvent(s string) (Packet, error) {
	var args []json.RawMessage
	if err := json.Unmarshal([]byte(s), &args); err != nil {
		return Packet{}, fmt.Errorf("invalid event payload: %w", err)
	}
	if len(args) == 0 {
		return Packet{}, errors.New("event without a name")
	}
	var name string
	if err := json.Unmarshal(args[0], &name); err != nil {
		return Packet{}, fmt.Errorf("invalid event name: %w", err)
	}
	p := Packet{Kind: PacketEvent, Event: name}
	if len(args) > 1 {
		p.Data = args[1]
	}
	return p, nil
}

// EncodeEvent builds a 42["name",payload] frame
func EncodeEvent(name string, payload any) ([]byte, error) {
	data, err := json.Marshal([]any{name, payload})
	if err != nil {
		return nil, fmt.Errorf("failed to encode event %s: %w", name, err)
	}
	return append([]byte("42"), data...), nil
}
