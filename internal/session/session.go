package session

import (
	"encoding/json"
	"time"
)

// State is the lifecycle position of a Session. Transitions only move
// forward: created -> processing -> ready|failed.
type State int

const (
	Created State = iota
	Processing
	Ready
	Failed
)

var stateNames = map[State]string{
	Created:    "created",
	Processing: "processing",
	Ready:      "ready",
	Failed:     "failed",
}

var stateFromName = map[string]State{
	"created":    Created,
	"processing": Processing,
	"ready":      Ready,
	"failed":     Failed,
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *State) UnmarshalJSON(data []byte) error {
	var n string
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if v, ok := stateFromName[n]; ok {
		*s = v
	}
	return nil
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == Ready || s == Failed
}

// Input is the job reference the engine needs for a run: the uploaded file
// and the directory its extracted data lives in.
type Input struct {
	FileID  string `json:"fileId"`
	WorkDir string `json:"workDir"`
	DataDir string `json:"dataDir"`
}

// Session is one analysis conversation: the upload it was created for, its
// lifecycle state, and (once ready) the engine handle reused by follow-up
// queries. Handle is set exactly once, by MarkReady, and is read-only after
// that.
type Session struct {
	ID         string    `json:"id"`
	Input      Input     `json:"input"`
	State      State     `json:"state"`
	Reason     string    `json:"reason,omitempty"` // failure reason when State == Failed
	CreatedAt  time.Time `json:"createdAt"`
	Transcript []string  `json:"-"`

	// Handle is opaque to the registry; the engine package owns its
	// concrete type. Excluded from JSON: it is server-internal state.
	Handle any `json:"-"`
}

// Clone returns a copy whose slice fields can be mutated independently of
// the original. Handle is shared by design: it is immutable once set.
func (s *Session) Clone() *Session {
	c := *s
	if len(s.Transcript) > 0 {
		c.Transcript = make([]string, len(s.Transcript))
		copy(c.Transcript, s.Transcript)
	}
	return &c
}
