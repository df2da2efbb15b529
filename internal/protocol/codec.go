package protocol

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/pkg/errors"
)

// ErrMalformed is returned for frames that do not parse as a known command.
var ErrMalformed = errors.New("protocol: malformed frame")

// Variant tags as they appear on the wire.
const (
	tagOffer           = "Offer"
	tagAnswer          = "Answer"
	tagIceCandidate    = "IceCandidate"
	tagCreateOffer     = "CreateOffer"
	tagCreateAnswer    = "CreateAnswer"
	tagGetAnswer       = "GetAnswer"
	tagAddIceCandidate = "AddIceCandidate"
	tagAddMember       = "AddMember"
	tagDropMember      = "DropMember"
)

var null = []byte("null")

// EncodeClient serializes cmd as a single externally tagged JSON object,
// e.g. {"Offer":["<peer>","<sdp>"]}.
func EncodeClient(cmd ClientCommand) ([]byte, error) {
	switch c := cmd.(type) {
	case Offer:
		return encodeTagged(tagOffer, c.To, c.SDP)
	case Answer:
		return encodeTagged(tagAnswer, c.To, c.SDP)
	case IceCandidate:
		return encodeTagged(tagIceCandidate, c.To, c.Candidate)
	default:
		return nil, errors.Errorf("protocol: unsupported client command %T", cmd)
	}
}

// DecodeClient parses one client frame.
func DecodeClient(data []byte) (ClientCommand, error) {
	tag, value, err := splitTagged(data)
	if err != nil {
		return nil, err
	}

	switch tag {
	case tagOffer:
		var c Offer
		if err := decodeFields(tag, value, &c.To, &c.SDP); err != nil {
			return nil, err
		}
		return c, nil
	case tagAnswer:
		var c Answer
		if err := decodeFields(tag, value, &c.To, &c.SDP); err != nil {
			return nil, err
		}
		return c, nil
	case tagIceCandidate:
		var c IceCandidate
		if err := decodeFields(tag, value, &c.To, &c.Candidate); err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, errors.Wrapf(ErrMalformed, "unknown client command %q", tag)
	}
}

// EncodeServer serializes cmd. Single-field variants carry the bare value,
// e.g. {"DropMember":"<peer>"}.
func EncodeServer(cmd ServerCommand) ([]byte, error) {
	switch c := cmd.(type) {
	case CreateOffer:
		return encodeTagged(tagCreateOffer, c.From)
	case CreateAnswer:
		return encodeTagged(tagCreateAnswer, c.From, c.SDP)
	case GetAnswer:
		return encodeTagged(tagGetAnswer, c.From, c.SDP)
	case AddIceCandidate:
		return encodeTagged(tagAddIceCandidate, c.From, c.Candidate)
	case AddMember:
		return encodeTagged(tagAddMember, c.From, c.Polite)
	case DropMember:
		return encodeTagged(tagDropMember, c.From)
	default:
		return nil, errors.Errorf("protocol: unsupported server command %T", cmd)
	}
}

// DecodeServer parses one server frame.
func DecodeServer(data []byte) (ServerCommand, error) {
	tag, value, err := splitTagged(data)
	if err != nil {
		return nil, err
	}

	switch tag {
	case tagCreateOffer:
		var c CreateOffer
		if err := decodeFields(tag, value, &c.From); err != nil {
			return nil, err
		}
		return c, nil
	case tagCreateAnswer:
		var c CreateAnswer
		if err := decodeFields(tag, value, &c.From, &c.SDP); err != nil {
			return nil, err
		}
		return c, nil
	case tagGetAnswer:
		var c GetAnswer
		if err := decodeFields(tag, value, &c.From, &c.SDP); err != nil {
			return nil, err
		}
		return c, nil
	case tagAddIceCandidate:
		var c AddIceCandidate
		if err := decodeFields(tag, value, &c.From, &c.Candidate); err != nil {
			return nil, err
		}
		return c, nil
	case tagAddMember:
		var c AddMember
		if err := decodeFields(tag, value, &c.From, &c.Polite); err != nil {
			return nil, err
		}
		return c, nil
	case tagDropMember:
		var c DropMember
		if err := decodeFields(tag, value, &c.From); err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, errors.Wrapf(ErrMalformed, "unknown server command %q", tag)
	}
}

func encodeTagged(tag string, fields ...any) ([]byte, error) {
	var value any = fields
	if len(fields) == 1 {
		value = fields[0]
	}
	return json.Marshal(map[string]any{tag: value})
}

// splitTagged requires exactly one JSON object with exactly one key and
// nothing after it.
func splitTagged(data []byte) (string, json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	var obj map[string]json.RawMessage
	if err := dec.Decode(&obj); err != nil {
		return "", nil, errors.Wrap(ErrMalformed, err.Error())
	}
	if _, err := dec.Token(); err != io.EOF {
		return "", nil, errors.Wrap(ErrMalformed, "trailing data after command")
	}
	if len(obj) != 1 {
		return "", nil, errors.Wrapf(ErrMalformed, "expected exactly one variant, got %d", len(obj))
	}
	for tag, value := range obj {
		return tag, value, nil
	}
	return "", nil, ErrMalformed
}

// decodeFields fills targets from the variant payload. One field is encoded
// bare, more than one as a positional array.
func decodeFields(tag string, value json.RawMessage, targets ...any) error {
	raws := []json.RawMessage{value}
	if len(targets) > 1 {
		raws = nil
		if err := json.Unmarshal(value, &raws); err != nil {
			return errors.Wrapf(ErrMalformed, "%s: %v", tag, err)
		}
		if len(raws) != len(targets) {
			return errors.Wrapf(ErrMalformed, "%s: expected %d fields, got %d", tag, len(targets), len(raws))
		}
	}

	for i, raw := range raws {
		if bytes.Equal(bytes.TrimSpace(raw), null) {
			return errors.Wrapf(ErrMalformed, "%s: field %d is null", tag, i)
		}
		if err := json.Unmarshal(raw, targets[i]); err != nil {
			return errors.Wrapf(ErrMalformed, "%s: field %d: %v", tag, i, err)
		}
	}
	return nil
}
