package identity

import "fmt"

// Status is the mining lifecycle state of a root checkpoint.
//
// A checkpoint is created as StatusPending and moves to StatusMined exactly
// once, when the external publication of the root is confirmed. Mined is
// terminal; no transition ever moves a root back to pending.
type Status string

const (
	StatusPending Status = "pending"
	StatusMined   Status = "mined"
)

// ParseStatus validates a persisted or user-supplied status string.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusMined:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// Valid reports whether the status is a member of the closed set.
func (s Status) Valid() bool {
	_, err := ParseStatus(string(s))
	return err == nil
}
