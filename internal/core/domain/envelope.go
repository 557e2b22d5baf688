package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Envelope types understood by the relay and the client state machines.
// Any other type is carried through untouched.
const (
	TypeHi     = "hi"
	TypeHo     = "ho"
	TypeBye    = "bye"
	TypeQuery  = "query"
	TypeReply  = "reply"
	TypeBeacon = "beacon"
	TypePing   = "ping"
	TypePong   = "pong"
	TypeSDP    = "sdp"
	TypeCall   = "call"
)

// Path markers carried in Envelope.Via.
const (
	ViaRelay  = "relay"
	ViaDirect = "direct"
	ViaLocal  = "local"
)

// ResultSuccess is the registration result the relay puts into a ho reply.
const ResultSuccess = "Success"

// Envelope is the JSON message exchanged over the relay and direct channels.
type Envelope struct {
	Hub  string          `json:"hub,omitempty"`
	From string          `json:"from,omitempty"`
	To   string          `json:"to,omitempty"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
	TS   int64           `json:"ts"`
	Via  string          `json:"via,omitempty"`
}

// ParseEnvelope decodes a wire message.
func ParseEnvelope(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}
	return &env, nil
}

// Marshal encodes the envelope for the wire.
func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeData unmarshals the payload into v. An absent payload leaves v untouched.
func (e *Envelope) DecodeData(v any) error {
	if len(e.Data) == 0 || bytes.Equal(e.Data, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("invalid %s payload: %w", e.Type, err)
	}
	return nil
}

// SetData replaces the payload with the JSON encoding of v.
func (e *Envelope) SetData(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", e.Type, err)
	}
	e.Data = raw
	return nil
}

// SetDataField sets a single key of an object payload, keeping the rest of
// the payload as sent. A missing payload becomes an object.
func (e *Envelope) SetDataField(key string, value any) error {
	fields := map[string]json.RawMessage{}
	if len(e.Data) > 0 && !bytes.Equal(e.Data, []byte("null")) {
		if err := json.Unmarshal(e.Data, &fields); err != nil {
			return fmt.Errorf("%s payload is not an object: %w", e.Type, err)
		}
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	fields[key] = raw
	return e.SetData(fields)
}

// Clone returns a deep copy.
func (e *Envelope) Clone() *Envelope {
	c := *e
	if e.Data != nil {
		c.Data = append(json.RawMessage(nil), e.Data...)
	}
	return &c
}

// Support lists how many audio and video tracks the local capture exposes.
type Support struct {
	Audio int `json:"audio"`
	Video int `json:"video"`
}

// HelloData is the payload of hi and ho.
type HelloData struct {
	Peer    string   `json:"peer,omitempty"`
	TS      int64    `json:"ts,omitempty"`
	Support *Support `json:"support,omitempty"`
	Result  string   `json:"result,omitempty"`
}

// QueryData is the payload of query and reply.
type QueryData struct {
	Hub   string `json:"hub"`
	Reply string `json:"reply,omitempty"`
	Peer  string `json:"peer,omitempty"`
}

// PongData is the payload of pong. Delay is filled in by the receiver.
type PongData struct {
	TsArv int64 `json:"tsArv"`
	Delay int64 `json:"delay,omitempty"`
}

// EncodePayload marshals v for the data field. When peer is set and v
// encodes to a JSON object, the object gains a "peer" member.
func EncodePayload(v any, peer string) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	if peer == "" || len(raw) == 0 || raw[0] != '{' {
		return raw, nil
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	name, err := json.Marshal(peer)
	if err != nil {
		return nil, err
	}
	fields["peer"] = name
	return json.Marshal(fields)
}
