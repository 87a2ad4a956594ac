package models

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// FragmentKind classifies a context fragment.
type FragmentKind string

const (
	// Standing context: rendered before history, never persisted as turns.
	FragmentRole     FragmentKind = "role"
	FragmentHint     FragmentKind = "hint"
	FragmentReminder FragmentKind = "reminder"

	// Conversation turns: buffered as pending, persisted on save.
	FragmentUser      FragmentKind = "user"
	FragmentAssistant FragmentKind = "assistant"
)

// Fragment is a named, structured piece of context: the unit the engine
// composes and renderers format. Data is an arbitrary JSON payload;
// fragments with a null or empty payload are skipped by renderers.
type Fragment struct {
	Kind FragmentKind    `json:"kind"`
	Name string          `json:"name"`
	Data json.RawMessage `json:"data,omitempty"`
}

// IsTurn reports whether the fragment is a user or assistant turn.
func (f Fragment) IsTurn() bool {
	return f.Kind == FragmentUser || f.Kind == FragmentAssistant
}

// Empty reports whether the fragment carries no payload. Renderers skip
// empty fragments without altering neighbouring output.
func (f Fragment) Empty() bool {
	data := strings.TrimSpace(string(f.Data))
	return data == "" || data == "null"
}

// Text flattens the payload for rendering, search indexing and token
// estimation. A JSON string payload is unquoted; any other payload has its
// string leaves concatenated in document order.
func (f Fragment) Text() string {
	if f.Empty() {
		return ""
	}
	var value any
	if err := json.Unmarshal(f.Data, &value); err != nil {
		return string(f.Data)
	}
	var parts []string
	collectStrings(value, &parts)
	if len(parts) == 0 {
		return string(f.Data)
	}
	return strings.Join(parts, " ")
}

func collectStrings(value any, out *[]string) {
	switch v := value.(type) {
	case string:
		*out = append(*out, v)
	case float64:
		*out = append(*out, strconv.FormatFloat(v, 'f', -1, 64))
	case bool:
		*out = append(*out, strconv.FormatBool(v))
	case []any:
		for _, item := range v {
			collectStrings(item, out)
		}
	case map[string]any:
		// encoding/json decodes objects into maps; walk keys sorted so the
		// flattened text is deterministic.
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			collectStrings(v[k], out)
		}
	}
}

func textFragment(kind FragmentKind, name, text string) Fragment {
	data, _ := json.Marshal(text)
	return Fragment{Kind: kind, Name: name, Data: data}
}

// Role creates a standing role-instruction fragment.
func Role(text string) Fragment {
	return textFragment(FragmentRole, "role", text)
}

// Hint creates a standing hint fragment with an arbitrary payload.
func Hint(name string, payload any) Fragment {
	data, _ := json.Marshal(payload)
	return Fragment{Kind: FragmentHint, Name: name, Data: data}
}

// Reminder creates a standing reminder fragment.
func Reminder(text string) Fragment {
	return textFragment(FragmentReminder, "reminder", text)
}

// User creates a user turn.
func User(text string) Fragment {
	return textFragment(FragmentUser, "user", text)
}

// AssistantText creates an assistant turn.
func AssistantText(text string) Fragment {
	return textFragment(FragmentAssistant, "assistant", text)
}

// FragmentFromMessage reconstructs the fragment a persisted message was
// saved from.
func FragmentFromMessage(m *Message) Fragment {
	return Fragment{
		Kind: FragmentKind(m.Type),
		Name: m.Name,
		Data: m.Data,
	}
}

// MessageFromFragment converts a turn fragment into a message node for a
// chat. The caller assigns ID and parent.
func MessageFromFragment(chatID string, f Fragment) *Message {
	return NewMessage(chatID, f.Name, string(f.Kind), f.Data)
}
