package models

import (
	"encoding/json"
	"strings"
)

// FlexString is a prompt field that accepts either a JSON string or an
// ordered list of strings. Lists are newline-joined at render time.
type FlexString []string

// UnmarshalJSON accepts "text" or ["line", "line"].
func (f *FlexString) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*f = FlexString{single}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*f = FlexString(list)
	return nil
}

// MarshalJSON emits a bare string for single-element values.
func (f FlexString) MarshalJSON() ([]byte, error) {
	if len(f) == 1 {
		return json.Marshal(f[0])
	}
	return json.Marshal([]string(f))
}

// Render joins the field's lines with newlines.
func (f FlexString) Render() string {
	return strings.Join(f, "\n")
}

// Empty reports whether the field contains no text at all.
func (f FlexString) Empty() bool {
	for _, s := range f {
		if strings.TrimSpace(s) != "" {
			return false
		}
	}
	return true
}

// PromptConfig is a tenant-defined override of the platform's prompt
// structure. A service with a non-empty config supplies the whole prompt;
// fallback to the legacy system prompt or the platform default happens per
// request, for the config as a whole.
type PromptConfig struct {
	Role         FlexString `json:"role,omitempty"`
	Instructions FlexString `json:"instructions,omitempty"`
	Context      FlexString `json:"context,omitempty"`
	Constraints  FlexString `json:"constraints,omitempty"`
	Style        FlexString `json:"style,omitempty"`
	OutputFormat FlexString `json:"output_format,omitempty"`
	Examples     FlexString `json:"examples,omitempty"`
	Goal         FlexString `json:"goal,omitempty"`
}

// ChatMessage is one turn of a conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
