package realtime

import (
	"errors"
	"testing"
)

func TestDecodePacket_Event(t *testing.T) {
	p, err := decodePacket([]byte(`42["newMessage",{"_id":"m1"}]`))
	if err != nil {
		t.Fatalf("decodePacket: %v", err)
	}
	if p.eio != eioMessage || p.sio != sioEvent {
		t.Fatalf("types: %q %q", p.eio, p.sio)
	}
	name, payload, err := decodeEvent(p.data)
	if err != nil {
		t.Fatalf("decodeEvent: %v", err)
	}
	if name != "newMessage" || string(payload) != `{"_id":"m1"}` {
		t.Fatalf("got %q %s", name, payload)
	}
}

func TestDecodePacket_NamespaceAndAckID(t *testing.T) {
	p, err := decodePacket([]byte(`42/chat,17["typing",{"senderId":"u1"}]`))
	if err != nil {
		t.Fatalf("decodePacket: %v", err)
	}
	name, _, err := decodeEvent(p.data)
	if err != nil || name != "typing" {
		t.Fatalf("got %q %v", name, err)
	}
}

func TestDecodePacket_ControlFrames(t *testing.T) {
	for raw, want := range map[string]byte{"2": eioPing, "3": eioPong, "1": eioClose, "6": eioNoop} {
		p, err := decodePacket([]byte(raw))
		if err != nil || p.eio != want {
			t.Fatalf("%q: got %q %v", raw, p.eio, err)
		}
	}
}

func TestDecodePacket_Malformed(t *testing.T) {
	for _, raw := range []string{"", "9", "4"} {
		if _, err := decodePacket([]byte(raw)); !errors.Is(err, errMalformedPacket) {
			t.Fatalf("%q: expected malformed, got %v", raw, err)
		}
	}
	for _, raw := range []string{`{}`, `[]`, `[1,2]`} {
		if _, _, err := decodeEvent([]byte(raw)); !errors.Is(err, errMalformedPacket) {
			t.Fatalf("%q: expected malformed, got %v", raw, err)
		}
	}
}

func TestDecodeEvent_NoPayload(t *testing.T) {
	name, payload, err := decodeEvent([]byte(`["refreshContactsList"]`))
	if err != nil || name != "refreshContactsList" || string(payload) != "null" {
		t.Fatalf("got %q %s %v", name, payload, err)
	}
}

func TestEncodeEvent(t *testing.T) {
	b, err := encodeEvent("stopTyping", map[string]string{"receiverId": "u2"})
	if err != nil {
		t.Fatalf("encodeEvent: %v", err)
	}
	if got := string(b); got != `42["stopTyping",{"receiverId":"u2"}]` {
		t.Fatalf("got %s", got)
	}
}

func TestOpenInfoReadTimeout(t *testing.T) {
	o := openInfo{PingInterval: 25000, PingTimeout: 20000}
	if got := o.readTimeout().Seconds(); got != 45 {
		t.Fatalf("got %v", got)
	}
}
