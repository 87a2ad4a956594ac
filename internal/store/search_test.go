package store

import (
	"encoding/json"
	"testing"

	"github.com/haasonsaas/weave/pkg/models"
)

func TestSearchText(t *testing.T) {
	msg := models.NewMessage("c1", "user", "user", json.RawMessage(`"the quick fox"`))
	if got := searchText(msg); got != "user the quick fox" {
		t.Errorf("searchText = %q", got)
	}

	empty := models.NewMessage("c1", "note", "hint", nil)
	if got := searchText(empty); got != "note" {
		t.Errorf("searchText(empty payload) = %q, want name only", got)
	}

	structured := models.NewMessage("c1", "prefs", "hint", json.RawMessage(`{"b":"beta","a":"alpha"}`))
	if got := searchText(structured); got != "prefs alpha beta" {
		t.Errorf("searchText(structured) = %q", got)
	}
}

func TestFTSQuery(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"fox", `"fox"`},
		{"quick fox", `"quick" "fox"`},
		{`say "hi"`, `"say" """hi"""`},
		{"", ""},
		{"   ", ""},
	}
	for _, tt := range tests {
		if got := ftsQuery(tt.in); got != tt.want {
			t.Errorf("ftsQuery(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMatchesSubstring(t *testing.T) {
	tests := []struct {
		indexed string
		query   string
		want    bool
	}{
		{"user the quick brown fox", "quick", true},
		{"user the quick brown fox", "QUICK", true},
		{"user the quick brown fox", "quick fox", true},
		{"user the quick brown fox", "quick turtle", false},
		{"user the quick brown fox", "", false},
		{"user the quick brown fox", "   ", false},
		{"", "quick", false},
	}
	for _, tt := range tests {
		if got := matchesSubstring(tt.indexed, tt.query); got != tt.want {
			t.Errorf("matchesSubstring(%q, %q) = %v, want %v", tt.indexed, tt.query, got, tt.want)
		}
	}
}
