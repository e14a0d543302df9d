package mirror

import (
	"encoding/json"

	"github.com/hazyhaar/seqbrowse/scene"
)

// Slot is one mirror child touched by a pass.
type Slot struct {
	Key  string       `json:"source_data_name"`
	Node scene.NodeID `json:"node"`
	Data scene.NodeID `json:"data,omitempty"`
}

// Problem is a non-fatal per-item failure. The pass skipped the item and
// carried on.
type Problem struct {
	Node scene.NodeID
	Err  error
}

func (p Problem) Error() string { return string(p.Node) + ": " + p.Err.Error() }
func (p Problem) Unwrap() error { return p.Err }

func (p Problem) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Node  scene.NodeID `json:"node"`
		Error string       `json:"error"`
	}{p.Node, p.Err.Error()})
}

// Report is the outcome of one pass.
type Report struct {
	Created  []Slot    `json:"created"`
	Reused   []Slot    `json:"reused"`
	Deleted  []Slot    `json:"deleted"`
	Problems []Problem `json:"problems,omitempty"`
	// Skipped is set when the pass had nothing to do: no mirror root, or
	// no source with the retain policy.
	Skipped bool `json:"skipped,omitempty"`
}

// Changed reports whether the pass created or deleted anything.
func (r Report) Changed() bool { return len(r.Created) > 0 || len(r.Deleted) > 0 }
