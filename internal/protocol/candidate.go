package protocol

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Candidate is the JSON shape browsers produce from RTCIceCandidate.toJSON().
// Clients put its serialized form into IceCandidate / AddIceCandidate.
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// ParseCandidate decodes a candidate payload received from a peer.
func ParseCandidate(payload string) (Candidate, error) {
	var c Candidate
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return Candidate{}, errors.Wrap(ErrMalformed, "ice candidate: "+err.Error())
	}
	return c, nil
}

// Encode returns the payload form of c.
func (c Candidate) Encode() (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", errors.Wrap(err, "encode ice candidate")
	}
	return string(b), nil
}
