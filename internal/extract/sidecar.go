// Package extract turns free-text reasoning output and cached tool
// results into the typed, range-validated records the rest of the
// pipeline consumes.
package extract

import (
	"encoding/json"
	"log"
	"strings"
)

// Sidecar block delimiters. The reasoning prompts instruct the model
// to append exactly one such block after its narrative.
const (
	SidecarOpen  = "<INSIGHTS>"
	SidecarClose = "</INSIGHTS>"
)

// Sidecar is the machine-readable fragment embedded in a narrative.
type Sidecar struct {
	Metrics  map[string]json.RawMessage `json:"metrics"`
	Insights SidecarInsights            `json:"insights"`
}

// SidecarInsights mirrors the categorical schema loosely; values are
// validated against the closed enums during the merge, not here.
type SidecarInsights struct {
	Decision     string          `json:"decision"`
	Conviction   string          `json:"conviction"`
	MoatStrength string          `json:"moat_strength"`
	TopRisks     json.RawMessage `json:"top_risks"`
	KeyStrengths json.RawMessage `json:"key_strengths"`
}

// StripSidecar locates the delimited block, parses it, and removes it
// from the narrative. The returned narrative is the display copy and
// must never contain the markers or the raw JSON. A missing block
// yields a nil sidecar, not an error; a malformed block is stripped
// anyway and treated as "no structured data".
func StripSidecar(narrative string) (string, *Sidecar) {
	start := strings.Index(narrative, SidecarOpen)
	if start < 0 {
		return narrative, nil
	}
	rest := narrative[start+len(SidecarOpen):]
	end := strings.Index(rest, SidecarClose)

	var blob, display string
	if end < 0 {
		// Unterminated block: everything after the open marker goes.
		blob = rest
		display = narrative[:start]
	} else {
		blob = rest[:end]
		display = narrative[:start] + rest[end+len(SidecarClose):]
	}
	display = strings.TrimSpace(display)

	blob = strings.TrimSpace(blob)
	blob = strings.TrimPrefix(blob, "```json")
	blob = strings.TrimPrefix(blob, "```")
	blob = strings.TrimSuffix(blob, "```")
	blob = strings.TrimSpace(blob)

	var sc Sidecar
	if err := json.Unmarshal([]byte(blob), &sc); err != nil {
		log.Printf("sidecar block unparseable, continuing without structured data: %v", err)
		return display, nil
	}
	return display, &sc
}

// StringList decodes a sidecar list field. A bare string is coerced to
// a single-element list because the field is declared list-typed; any
// other shape is rejected.
func StringList(raw json.RawMessage) ([]string, bool) {
	if len(raw) == 0 {
		return nil, true
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, true
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return []string{single}, true
	}
	return nil, false
}

// NumberField decodes a sidecar numeric field. Only JSON numbers are
// accepted; strings and other shapes are rejected.
func NumberField(raw json.RawMessage) (float64, bool) {
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	return v, true
}
