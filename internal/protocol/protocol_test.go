package protocol

import (
	"encoding/json"
	"testing"
)

func TestParseAcceptsValidMessages(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want Message
	}{
		{
			"joinRoom with role",
			`{"id":"joinRoom","room":"r1","name":"alice","role":"manager"}`,
			Message{ID: IDJoinRoom, Room: "r1", Name: "alice", Role: "manager"},
		},
		{
			"joinRoom without role",
			`{"id":"joinRoom","room":"r1","name":"alice"}`,
			Message{ID: IDJoinRoom, Room: "r1", Name: "alice"},
		},
		{
			"receiveVideoFrom",
			`{"id":"receiveVideoFrom","sender":"bob","sdpOffer":"v=0"}`,
			Message{ID: IDReceiveVideoFrom, Sender: "bob", SDPOffer: "v=0"},
		},
		{
			"leaveRoom",
			`{"id":"leaveRoom"}`,
			Message{ID: IDLeaveRoom},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Parse([]byte(tc.raw))
			if err != nil {
				t.Fatalf("Parse(%s): %v", tc.raw, err)
			}
			if got != tc.want {
				t.Fatalf("Parse=%+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestParseOnIceCandidate(t *testing.T) {
	raw := `{"id":"onIceCandidate","name":"bob","candidate":{"candidate":"candidate:1 1 udp 2122260223 192.0.2.1 54400 typ host","sdpMid":"0","sdpMLineIndex":0}}`
	msg, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if msg.Name != "bob" {
		t.Fatalf("Name=%q, want bob", msg.Name)
	}
	if msg.Candidate == nil || msg.Candidate.SDPMid == nil || *msg.Candidate.SDPMid != "0" {
		t.Fatalf("Candidate=%+v", msg.Candidate)
	}
	if msg.Candidate.SDPMLineIndex == nil || *msg.Candidate.SDPMLineIndex != 0 {
		t.Fatalf("SDPMLineIndex=%v", msg.Candidate.SDPMLineIndex)
	}
}

func TestParseRejectsMalformedMessages(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"not json", `joinRoom r1`},
		{"unknown id", `{"id":"start"}`},
		{"missing id", `{"room":"r1"}`},
		{"unknown field", `{"id":"leaveRoom","reason":"done"}`},
		{"joinRoom missing room", `{"id":"joinRoom","name":"alice"}`},
		{"joinRoom missing name", `{"id":"joinRoom","room":"r1"}`},
		{"joinRoom with offer", `{"id":"joinRoom","room":"r1","name":"a","sdpOffer":"v=0"}`},
		{"receiveVideoFrom missing sender", `{"id":"receiveVideoFrom","sdpOffer":"v=0"}`},
		{"receiveVideoFrom missing offer", `{"id":"receiveVideoFrom","sender":"bob"}`},
		{"leaveRoom with fields", `{"id":"leaveRoom","room":"r1"}`},
		{"onIceCandidate missing candidate", `{"id":"onIceCandidate","name":"bob"}`},
		{"onIceCandidate empty candidate", `{"id":"onIceCandidate","candidate":{"candidate":""}}`},
		{"trailing data", `{"id":"leaveRoom"}{"id":"leaveRoom"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Parse([]byte(tc.raw)); err == nil {
				t.Fatalf("accepted %s", tc.raw)
			}
		})
	}
}

func TestExistingParticipantsMarshalsEmptyRoster(t *testing.T) {
	b, err := json.Marshal(ExistingParticipantsMessage(nil))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(b) != `{"id":"existingParticipants","data":[]}` {
		t.Fatalf("got %s, want empty data array", b)
	}
}

func TestOutboundShapes(t *testing.T) {
	mid := "0"
	idx := uint16(1)
	b, err := json.Marshal(IceCandidateMessage("bob", Candidate{
		Candidate:     "candidate:1",
		SDPMid:        &mid,
		SDPMLineIndex: &idx,
	}.ToMedia()))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"id":"iceCandidate","name":"bob","candidate":{"candidate":"candidate:1","sdpMid":"0","sdpMLineIndex":1}}`
	if string(b) != want {
		t.Fatalf("got  %s\nwant %s", b, want)
	}

	b, err = json.Marshal(NewParticipantArrivedMessage("alice", "manager"))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want = `{"id":"newParticipantArrived","name":"alice","role":"manager"}`
	if string(b) != want {
		t.Fatalf("got  %s\nwant %s", b, want)
	}
}
