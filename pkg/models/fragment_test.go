package models

import (
	"encoding/json"
	"testing"
)

func TestFragmentText(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"json string", `"hello world"`, "hello world"},
		{"null", `null`, ""},
		{"empty", ``, ""},
		{"object leaves sorted by key", `{"z":"last","a":"first"}`, "first last"},
		{"nested", `{"outer":{"inner":"deep"},"top":"shallow"}`, "deep shallow"},
		{"array order preserved", `["one","two","three"]`, "one two three"},
		{"numbers and bools", `{"n":42,"ok":true}`, "42 true"},
		{"invalid json passes through", `not json`, "not json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frag := Fragment{Kind: FragmentUser, Name: "x", Data: json.RawMessage(tt.data)}
			if got := frag.Text(); got != tt.want {
				t.Errorf("Text() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFragmentEmpty(t *testing.T) {
	tests := []struct {
		data string
		want bool
	}{
		{``, true},
		{`null`, true},
		{`  null  `, true},
		{`""`, false},
		{`"text"`, false},
		{`{}`, false},
	}
	for _, tt := range tests {
		frag := Fragment{Data: json.RawMessage(tt.data)}
		if got := frag.Empty(); got != tt.want {
			t.Errorf("Empty(%q) = %v, want %v", tt.data, got, tt.want)
		}
	}
}

func TestFragmentIsTurn(t *testing.T) {
	turns := map[FragmentKind]bool{
		FragmentUser:      true,
		FragmentAssistant: true,
		FragmentRole:      false,
		FragmentHint:      false,
		FragmentReminder:  false,
	}
	for kind, want := range turns {
		if got := (Fragment{Kind: kind}).IsTurn(); got != want {
			t.Errorf("IsTurn(%s) = %v, want %v", kind, got, want)
		}
	}
}

func TestMessageFragmentRoundTrip(t *testing.T) {
	original := User("what is a closure")
	msg := MessageFromFragment("c1", original)
	if msg.ChatID != "c1" || msg.Type != string(FragmentUser) || msg.Name != "user" {
		t.Errorf("message = %+v", msg)
	}

	back := FragmentFromMessage(msg)
	if back.Kind != original.Kind || back.Name != original.Name || string(back.Data) != string(original.Data) {
		t.Errorf("round trip mutated fragment: %+v vs %+v", back, original)
	}
}

func TestConstructors(t *testing.T) {
	role := Role("persona")
	if role.Kind != FragmentRole || role.Name != "role" || role.Text() != "persona" {
		t.Errorf("Role = %+v", role)
	}
	hint := Hint("prefs", map[string]string{"tone": "dry"})
	if hint.Kind != FragmentHint || hint.Name != "prefs" || hint.Text() != "dry" {
		t.Errorf("Hint = %+v, text %q", hint, hint.Text())
	}
	if r := Reminder("check units"); r.Kind != FragmentReminder {
		t.Errorf("Reminder kind = %s", r.Kind)
	}
	if a := AssistantText("done"); a.Kind != FragmentAssistant || !a.IsTurn() {
		t.Errorf("AssistantText = %+v", a)
	}
}
