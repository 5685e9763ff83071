// Package gap flags stored memories that need a follow-up action.
package gap

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/antoniostano/memvault/internal/memory"
)

type ActionKind string

const (
	KindCreateReminder ActionKind = "create_reminder"
	KindFollowUp       ActionKind = "follow_up"
	KindSummarize      ActionKind = "auto_summarize"
	KindSmartNotify    ActionKind = "smart_notify"
)

// Action is one of CreateReminder, FollowUp, Summarize or SmartNotify. The
// set is closed; consumers switch over the concrete types.
type Action interface {
	Kind() ActionKind
	isAction()
}

type CreateReminder struct {
	Title        string     `json:"title"`
	DatetimeHint *time.Time `json:"datetime_hint,omitempty"`
	Service      string     `json:"service,omitempty"`
}

type FollowUp struct {
	Contact string `json:"contact,omitempty"`
	Topic   string `json:"topic"`
	Service string `json:"service,omitempty"`
}

type Summarize struct {
	RecordID string `json:"record_id"`
}

type SmartNotify struct {
	Message string `json:"message"`
	Channel string `json:"channel,omitempty"`
}

func (CreateReminder) Kind() ActionKind { return KindCreateReminder }
func (FollowUp) Kind() ActionKind       { return KindFollowUp }
func (Summarize) Kind() ActionKind      { return KindSummarize }
func (SmartNotify) Kind() ActionKind    { return KindSmartNotify }

func (CreateReminder) isAction() {}
func (FollowUp) isAction()       {}
func (Summarize) isAction()      {}
func (SmartNotify) isAction()    {}

// Suggestion pairs an action with the reason it was proposed.
type Suggestion struct {
	Action Action
	Reason string
}

type suggestionWire struct {
	Action ActionKind      `json:"action"`
	Reason string          `json:"reason"`
	Params json.RawMessage `json:"params"`
}

func (s Suggestion) MarshalJSON() ([]byte, error) {
	if s.Action == nil {
		return nil, fmt.Errorf("suggestion has no action")
	}
	params, err := json.Marshal(s.Action)
	if err != nil {
		return nil, err
	}
	return json.Marshal(suggestionWire{Action: s.Action.Kind(), Reason: s.Reason, Params: params})
}

func (s *Suggestion) UnmarshalJSON(data []byte) error {
	var wire suggestionWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	var action Action
	switch wire.Action {
	case KindCreateReminder:
		var a CreateReminder
		if err := unmarshalParams(wire.Params, &a); err != nil {
			return err
		}
		action = a
	case KindFollowUp:
		var a FollowUp
		if err := unmarshalParams(wire.Params, &a); err != nil {
			return err
		}
		action = a
	case KindSummarize:
		var a Summarize
		if err := unmarshalParams(wire.Params, &a); err != nil {
			return err
		}
		action = a
	case KindSmartNotify:
		var a SmartNotify
		if err := unmarshalParams(wire.Params, &a); err != nil {
			return err
		}
		action = a
	default:
		return fmt.Errorf("unknown action %q", wire.Action)
	}
	s.Action = action
	s.Reason = wire.Reason
	return nil
}

func unmarshalParams(raw json.RawMessage, dst any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

// Detector maps a stored record to zero or more suggestions.
type Detector interface {
	Detect(rec memory.Record) []Suggestion
}

type DetectorFunc func(rec memory.Record) []Suggestion

func (f DetectorFunc) Detect(rec memory.Record) []Suggestion { return f(rec) }
