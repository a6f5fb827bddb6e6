// Package sequence loads the JSON Sequence Document (spec.md §6) that
// drives the executor: a parameters header plus an ordered list of
// sequence items, optionally followed by a fail handler.
//
// Grounded on original_source/src/executor/parse_sequence.rs for the
// document shape, rendered in the glennswest-ipmiserial/config.Load
// read-then-unmarshal idiom.
package sequence

import (
	"encoding/json"
	"fmt"
	"os"
)

// StringOrList decodes a JSON value that may be either a bare string or a
// list of strings, always exposing it as a slice. This is spec.md §3's
// "action (string OR ordered list of strings)".
type StringOrList []string

func (s *StringOrList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*s = StringOrList{single}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("sequence: action must be a string or list of strings: %w", err)
	}
	*s = StringOrList(list)
	return nil
}

// Parameters is the sequence document's header block.
type Parameters struct {
	VIN                   string `json:"vin"`
	TesterPresent         bool   `json:"tester_present"`
	TesterPresentInterval string `json:"tester_present_interval"`
}

// Item is one scripted action in the sequence.
type Item struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Action      StringOrList `json:"action"`
	Expect      []string     `json:"expect"`
	Timeout     string       `json:"timeout"`
	Fail        string       `json:"fail"`
}

// FailHandler is parsed but, per spec.md §4.7 / §9, never executed in this
// revision — preserved as documented, pending product clarification.
type FailHandler struct {
	SendDiag *Item `json:"send_diag"`
}

// Document is the full sequence file: a parameters header, the ordered
// item list, and an optional (unexecuted) fail handler.
type Document struct {
	Parameter   Parameters   `json:"parameter"`
	Sequence    []Item       `json:"sequence"`
	FailHandler *FailHandler `json:"fail_handler,omitempty"`
}

// Load reads and parses a Sequence Document from a JSON file at path.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sequence: reading %s: %w", path, err)
	}
	doc := &Document{}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("sequence: parsing %s: %w", path, err)
	}
	return doc, nil
}
