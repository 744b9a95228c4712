package engine

import "encoding/json"

// Sentinel markers delimiting the structured result inside the engine's
// otherwise freeform output stream. The engine emits each on a line by
// itself, with a single JSON object line between them.
const (
	resultStartMarker = "__RESULT_START__"
	resultEndMarker   = "__RESULT_END__"
)

// Result is the one structured payload an engine run produces. Success is
// authoritative regardless of the process exit code.
type Result struct {
	Success bool   `json:"success"`
	Payload string `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

// resultCapture accumulates the sentinel-delimited region and parses each
// line inside it as it arrives. The last line that parses wins; garbage
// inside the region is ignored so a partially-corrupted trailer can still
// yield a result.
type resultCapture struct {
	capturing bool
	result    *Result
}

// consume feeds one line through the sentinel state machine. It returns true
// when the line belongs to the protocol (and so must not be broadcast).
func (rc *resultCapture) consume(line string) bool {
	switch {
	case line == resultStartMarker:
		rc.capturing = true
		return true
	case line == resultEndMarker:
		rc.capturing = false
		return true
	case rc.capturing:
		// The success key is mandatory; a JSON value without it (or one
		// that is not an object) is not a result.
		var probe struct {
			Success *bool  `json:"success"`
			Payload string `json:"result"`
			Error   string `json:"error"`
		}
		if err := json.Unmarshal([]byte(line), &probe); err == nil && probe.Success != nil {
			rc.result = &Result{Success: *probe.Success, Payload: probe.Payload, Error: probe.Error}
		}
		return true
	}
	return false
}
