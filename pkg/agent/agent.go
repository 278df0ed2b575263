// Package agent defines the closed set of responders a prompt can be routed to.
package agent

import "strings"

// ID identifies a downstream responder.
type ID string

// The supported responders, in rule-table declaration order.
const (
	Codex      ID = "codex"
	Perplexity ID = "perplexity"
	Gemini     ID = "gemini"
	DeepSeek   ID = "deepseek"
	GPAI       ID = "gpai"
	ChatGPT    ID = "chatgpt"
)

// Fallback is the general assistant that receives unmatched prompts and
// substitutes for unsubscribed responders.
const Fallback = ChatGPT

// Info holds presentation metadata for a responder.
type Info struct {
	Display string `json:"display"`
	Color   string `json:"color"`
}

var all = []ID{Codex, Perplexity, Gemini, DeepSeek, GPAI, ChatGPT}

var infos = map[ID]Info{
	Codex:      {Display: "Codex", Color: "#ff6e4a"},
	Perplexity: {Display: "Perplexity", Color: "#5436da"},
	Gemini:     {Display: "Gemini", Color: "#1a73e8"},
	DeepSeek:   {Display: "DeepSeek", Color: "#4b6bfb"},
	GPAI:       {Display: "GPAI", Color: "#ff6b4a"},
	ChatGPT:    {Display: "ChatGPT", Color: "#10a37f"},
}

// All returns every responder in declaration order.
func All() []ID {
	out := make([]ID, len(all))
	copy(out, all)
	return out
}

// Parse normalizes s and reports whether it names a known responder.
func Parse(s string) (ID, bool) {
	id := ID(strings.ToLower(strings.TrimSpace(s)))
	return id, id.Valid()
}

// Valid reports whether id is one of the supported responders.
func (id ID) Valid() bool {
	_, ok := infos[id]
	return ok
}

// Info returns the presentation metadata for id. Unknown ids get the
// fallback responder's metadata.
func (id ID) Info() Info {
	if info, ok := infos[id]; ok {
		return info
	}
	return infos[Fallback]
}

func (id ID) String() string {
	return string(id)
}
