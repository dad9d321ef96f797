package realtime

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Engine.IO v4 packet types.
const (
	eioOpen    byte = '0'
	eioClose   byte = '1'
	eioPing    byte = '2'
	eioPong    byte = '3'
	eioMessage byte = '4'
	eioUpgrade byte = '5'
	eioNoop    byte = '6'
)

// Socket.IO v5 packet types, carried inside an Engine.IO message.
const (
	sioConnect      byte = '0'
	sioDisconnect   byte = '1'
	sioEvent        byte = '2'
	sioAck          byte = '3'
	sioConnectError byte = '4'
)

var errMalformedPacket = errors.New("realtime: malformed packet")

type openInfo struct {
	SID          string `json:"sid"`
	PingInterval int    `json:"pingInterval"`
	PingTimeout  int    `json:"pingTimeout"`
}

// readTimeout is how long the server may stay silent before the link is
// considered dead.
func (o openInfo) readTimeout() time.Duration {
	d := time.Duration(o.PingInterval+o.PingTimeout) * time.Millisecond
	if d <= 0 {
		return 45 * time.Second
	}
	return d
}

type packet struct {
	eio  byte
	sio  byte
	data []byte
}

func decodePacket(raw []byte) (packet, error) {
	if len(raw) == 0 {
		return packet{}, errMalformedPacket
	}
	p := packet{eio: raw[0], data: raw[1:]}
	if p.eio < eioOpen || p.eio > eioNoop {
		return packet{}, fmt.Errorf("%w: engine type %q", errMalformedPacket, p.eio)
	}
	if p.eio != eioMessage {
		return p, nil
	}
	if len(p.data) == 0 {
		return packet{}, fmt.Errorf("%w: empty message", errMalformedPacket)
	}
	p.sio = p.data[0]
	p.data = p.data[1:]
	// Default namespace only; a leading "/nsp," is skipped.
	if len(p.data) > 0 && p.data[0] == '/' {
		if i := bytes.IndexByte(p.data, ','); i >= 0 {
			p.data = p.data[i+1:]
		}
	}
	// Ack ids precede the JSON body on events we never requested acks for.
	i := 0
	for i < len(p.data) && p.data[i] >= '0' && p.data[i] <= '9' {
		i++
	}
	p.data = p.data[i:]
	return p, nil
}

// decodeEvent splits `["name", payload]`. A missing payload decodes as null.
func decodeEvent(data []byte) (string, json.RawMessage, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return "", nil, fmt.Errorf("%w: %v", errMalformedPacket, err)
	}
	if len(parts) == 0 {
		return "", nil, fmt.Errorf("%w: empty event", errMalformedPacket)
	}
	var name string
	if err := json.Unmarshal(parts[0], &name); err != nil || name == "" {
		return "", nil, fmt.Errorf("%w: event name", errMalformedPacket)
	}
	if len(parts) < 2 {
		return name, json.RawMessage("null"), nil
	}
	return name, parts[1], nil
}

func encodeEvent(name string, payload any) ([]byte, error) {
	body, err := json.Marshal([]any{name, payload})
	if err != nil {
		return nil, fmt.Errorf("realtime: encode %s: %w", name, err)
	}
	out := make([]byte, 0, len(body)+2)
	out = append(out, eioMessage, sioEvent)
	return append(out, body...), nil
}

var (
	connectFrame = []byte{eioMessage, sioConnect}
	pongFrame    = []byte{eioPong}
)
