// Package protocol defines the signaling wire schema: JSON objects, one per
// websocket text frame, discriminated by an "id" field.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/vidbridge/signaling/internal/media"
)

// Inbound message ids.
const (
	IDJoinRoom         = "joinRoom"
	IDReceiveVideoFrom = "receiveVideoFrom"
	IDLeaveRoom        = "leaveRoom"
	IDOnIceCandidate   = "onIceCandidate"
)

// Outbound message ids.
const (
	IDNewParticipantArrived = "newParticipantArrived"
	IDExistingParticipants  = "existingParticipants"
	IDParticipantLeft       = "participantLeft"
	IDReceiveVideoAnswer    = "receiveVideoAnswer"
	IDIceCandidate          = "iceCandidate"
	IDError                 = "error"
)

// DefaultRole is assumed when a joinRoom message carries no role.
const DefaultRole = "user"

// Candidate is the wire form of a trickle ICE candidate.
type Candidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

func CandidateFromMedia(c media.Candidate) Candidate {
	return Candidate{
		Candidate:     c.Candidate,
		SDPMid:        c.SDPMid,
		SDPMLineIndex: c.SDPMLineIndex,
	}
}

func (c Candidate) ToMedia() media.Candidate {
	return media.Candidate{
		Candidate:     c.Candidate,
		SDPMid:        c.SDPMid,
		SDPMLineIndex: c.SDPMLineIndex,
	}
}

// Message is the union of all inbound signaling messages.
type Message struct {
	ID string `json:"id"`

	// joinRoom
	Room string `json:"room,omitempty"`
	Role string `json:"role,omitempty"`

	// joinRoom (participant name) / onIceCandidate (target endpoint name)
	Name string `json:"name,omitempty"`

	// receiveVideoFrom
	Sender   string `json:"sender,omitempty"`
	SDPOffer string `json:"sdpOffer,omitempty"`

	// onIceCandidate
	Candidate *Candidate `json:"candidate,omitempty"`
}

// Parse decodes and validates one inbound frame. Unknown ids, unknown
// fields and missing required fields are all rejected.
func Parse(data []byte) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var msg Message
	if err := dec.Decode(&msg); err != nil {
		return Message{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Message{}, fmt.Errorf("unexpected trailing data")
	}
	if err := msg.validate(); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func (m Message) validate() error {
	switch m.ID {
	case IDJoinRoom:
		if m.Room == "" {
			return fmt.Errorf("joinRoom message missing room")
		}
		if m.Name == "" {
			return fmt.Errorf("joinRoom message missing name")
		}
		if m.Sender != "" || m.SDPOffer != "" || m.Candidate != nil {
			return fmt.Errorf("joinRoom message has unexpected fields")
		}
	case IDReceiveVideoFrom:
		if m.Sender == "" {
			return fmt.Errorf("receiveVideoFrom message missing sender")
		}
		if m.SDPOffer == "" {
			return fmt.Errorf("receiveVideoFrom message missing sdpOffer")
		}
		if m.Room != "" || m.Role != "" || m.Name != "" || m.Candidate != nil {
			return fmt.Errorf("receiveVideoFrom message has unexpected fields")
		}
	case IDLeaveRoom:
		if m.Room != "" || m.Role != "" || m.Name != "" || m.Sender != "" || m.SDPOffer != "" || m.Candidate != nil {
			return fmt.Errorf("leaveRoom message has unexpected fields")
		}
	case IDOnIceCandidate:
		if m.Candidate == nil {
			return fmt.Errorf("onIceCandidate message missing candidate")
		}
		if m.Candidate.Candidate == "" {
			return fmt.Errorf("onIceCandidate message missing candidate.candidate")
		}
		if m.Room != "" || m.Role != "" || m.Sender != "" || m.SDPOffer != "" {
			return fmt.Errorf("onIceCandidate message has unexpected fields")
		}
	default:
		return fmt.Errorf("unsupported message id %q", m.ID)
	}
	return nil
}

// ParticipantInfo is a roster entry in existingParticipants.
type ParticipantInfo struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

// Outbound messages. Each type marshals with the fixed "id" discriminator.

type NewParticipantArrived struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

func NewParticipantArrivedMessage(name, role string) NewParticipantArrived {
	return NewParticipantArrived{ID: IDNewParticipantArrived, Name: name, Role: role}
}

type ExistingParticipants struct {
	ID   string            `json:"id"`
	Data []ParticipantInfo `json:"data"`
}

func ExistingParticipantsMessage(data []ParticipantInfo) ExistingParticipants {
	if data == nil {
		data = []ParticipantInfo{}
	}
	return ExistingParticipants{ID: IDExistingParticipants, Data: data}
}

type ParticipantLeft struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func ParticipantLeftMessage(name string) ParticipantLeft {
	return ParticipantLeft{ID: IDParticipantLeft, Name: name}
}

type ReceiveVideoAnswer struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	SDPAnswer string `json:"sdpAnswer"`
}

func ReceiveVideoAnswerMessage(name, sdpAnswer string) ReceiveVideoAnswer {
	return ReceiveVideoAnswer{ID: IDReceiveVideoAnswer, Name: name, SDPAnswer: sdpAnswer}
}

type IceCandidate struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Candidate Candidate `json:"candidate"`
}

func IceCandidateMessage(name string, c media.Candidate) IceCandidate {
	return IceCandidate{ID: IDIceCandidate, Name: name, Candidate: CandidateFromMedia(c)}
}

type Error struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

func ErrorMessage(message string) Error {
	return Error{ID: IDError, Message: message}
}
