package gap

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/antoniostano/memvault/internal/memory"
)

func TestKeywordDetectorScenario(t *testing.T) {
	rec := memory.Record{Summary: "Remind me to follow up with Sarah about the contract deadline on Friday"}
	got := NewKeywordDetector().Detect(rec)
	if len(got) != 1 {
		t.Fatalf("len(suggestions) = %d, want 1", len(got))
	}
	reminder, ok := got[0].Action.(CreateReminder)
	if !ok {
		t.Fatalf("action = %T, want CreateReminder", got[0].Action)
	}
	if reminder.Kind() != KindCreateReminder {
		t.Fatalf("Kind() = %q", reminder.Kind())
	}
	if !strings.HasPrefix(reminder.Title, "Follow up: Remind me") {
		t.Fatalf("Title = %q", reminder.Title)
	}
	if reminder.Service != "whatsapp" {
		t.Fatalf("Service = %q", reminder.Service)
	}
	if !strings.Contains(got[0].Reason, "deadline") || !strings.Contains(got[0].Reason, "follow up") {
		t.Fatalf("Reason = %q", got[0].Reason)
	}
}

func TestKeywordDetectorMatching(t *testing.T) {
	cases := []struct {
		summary string
		want    bool
	}{
		{"Interview at Acme next week", true},
		{"Please REPLY by noon.", true},
		{"Need a follow-up on the invoice", true},
		{"Rent is due tomorrow", true},
		{"Bought groceries", false},
		{"Residue on the stove", false},
		{"", false},
	}
	d := NewKeywordDetector()
	for _, tc := range cases {
		got := len(d.Detect(memory.Record{Summary: tc.summary})) > 0
		if got != tc.want {
			t.Fatalf("Detect(%q) = %v, want %v", tc.summary, got, tc.want)
		}
	}
}

func TestKeywordDetectorTruncatesTitle(t *testing.T) {
	summary := "Urgent " + strings.Repeat("x", 200)
	got := NewKeywordDetector().Detect(memory.Record{Summary: summary})
	title := got[0].Action.(CreateReminder).Title
	if len([]rune(title)) != len("Follow up: ")+80 {
		t.Fatalf("title length = %d", len([]rune(title)))
	}
}

func TestSuggestionJSONRoundTrip(t *testing.T) {
	hint := time.Date(2026, 3, 6, 17, 0, 0, 0, time.UTC)
	in := []Suggestion{
		{Action: CreateReminder{Title: "Follow up: contract", DatetimeHint: &hint, Service: "whatsapp"}, Reason: "deadline"},
		{Action: FollowUp{Contact: "Sarah", Topic: "contract"}, Reason: "unanswered"},
		{Action: Summarize{RecordID: "r1"}, Reason: "long thread"},
		{Action: SmartNotify{Message: "heads up"}, Reason: "important"},
	}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !strings.Contains(string(data), `"action":"create_reminder"`) || !strings.Contains(string(data), `"params":{"title"`) {
		t.Fatalf("wire = %s", data)
	}

	var out []Suggestion
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("len = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i].Action.Kind() != in[i].Action.Kind() || out[i].Reason != in[i].Reason {
			t.Fatalf("out[%d] = %+v, want %+v", i, out[i], in[i])
		}
	}
	if got := out[0].Action.(CreateReminder).DatetimeHint; got == nil || !got.Equal(hint) {
		t.Fatalf("DatetimeHint = %v", got)
	}

	var bad Suggestion
	if err := json.Unmarshal([]byte(`{"action":"launch_rocket"}`), &bad); err == nil {
		t.Fatalf("Unmarshal(unknown) error = nil")
	}
}

func TestDetectorFunc(t *testing.T) {
	var d Detector = DetectorFunc(func(rec memory.Record) []Suggestion {
		return []Suggestion{{Action: Summarize{RecordID: rec.ID}, Reason: "always"}}
	})
	got := d.Detect(memory.Record{ID: "r9"})
	if got[0].Action.(Summarize).RecordID != "r9" {
		t.Fatalf("Detect() = %+v", got)
	}
}
