package backend

import "encoding/json"

// Status is the request state of one panel.
type Status string

const (
	StatusUnset   Status = "unset"
	StatusLoading Status = "loading"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// panelState is the state owned by a single panel. Epoch changes on every
// clear so that a call started before the clear cannot land afterwards.
type panelState struct {
	Status  Status          `json:"status"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Epoch   uint64          `json:"epoch"`
}

func (p panelState) isUnset() bool {
	return p.Status == "" || p.Status == StatusUnset
}

// start moves the panel to loading and drops the previous payload.
// Starting while already loading is allowed; the last call to settle wins.
func (p *panelState) start() uint64 {
	p.Status = StatusLoading
	p.Payload = nil
	return p.Epoch
}

// settle records the outcome of a call started at epoch. It reports false when
// the panel was cleared after the call started.
func (p *panelState) settle(epoch uint64, payload json.RawMessage, failed bool) bool {
	if p.Epoch != epoch || p.isUnset() {
		return false
	}

	p.Payload = payload
	if failed {
		p.Status = StatusError
	} else {
		p.Status = StatusSuccess
	}
	return true
}

// clear resets the panel to unset regardless of its prior state.
func (p *panelState) clear() {
	p.Status = StatusUnset
	p.Payload = nil
	p.Epoch++
}
