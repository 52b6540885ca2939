package instance

import (
	"strings"
	"time"
)

// legacyPrefix is accepted in front of the prefill for senders that tag
// their payload with the target.
const legacyPrefix = "ipc:launcher:"

// LauncherOpenRequest is what a client instance asks the primary to do:
// open (or toggle) the launcher, optionally with prefilled text.
type LauncherOpenRequest struct {
	// ID is assigned by the primary for log correlation.
	ID string `json:"id"`
	// Prefill is nil when the client sent no text.
	Prefill  *string   `json:"prefill,omitempty"`
	Received time.Time `json:"received"`
}

// HasPrefill reports whether the request carries text.
func (r LauncherOpenRequest) HasPrefill() bool {
	return r.Prefill != nil
}

// PrefillText returns the prefill or "".
func (r LauncherOpenRequest) PrefillText() string {
	if r.Prefill == nil {
		return ""
	}
	return *r.Prefill
}

// decodePrefill turns one received line into a prefill. Absent and empty
// both mean no prefill.
func decodePrefill(line string) *string {
	line = strings.TrimRight(line, "\r\n")
	line = strings.TrimPrefix(line, legacyPrefix)
	if line == "" {
		return nil
	}
	return &line
}

// encodePrefill flattens text to the single line the channel carries.
func encodePrefill(text string) string {
	text = strings.ReplaceAll(text, "\r", " ")
	return strings.ReplaceAll(text, "\n", " ") + "\n"
}
