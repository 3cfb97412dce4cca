// Package identity holds the domain model for the identity sequencer:
// commitment and root values, ledger rows, and root checkpoints.
package identity

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Size is the byte length of commitments and roots.
const Size = 32

// Commitment is an opaque fixed-size cryptographic commitment representing
// one admitted identity. Its internal structure is not interpreted here.
type Commitment [Size]byte

// Root summarizes the full identity sequence up to some count. It is the
// primary key of the checkpoint table and globally unique.
type Root [Size]byte

// ParseCommitment decodes a 64-character hex string into a Commitment.
func ParseCommitment(s string) (Commitment, error) {
	var c Commitment
	if err := decodeFixedHex(s, c[:]); err != nil {
		return Commitment{}, fmt.Errorf("parse commitment: %w", err)
	}
	return c, nil
}

// ParseRoot decodes a 64-character hex string into a Root.
func ParseRoot(s string) (Root, error) {
	var r Root
	if err := decodeFixedHex(s, r[:]); err != nil {
		return Root{}, fmt.Errorf("parse root: %w", err)
	}
	return r, nil
}

func decodeFixedHex(s string, dst []byte) error {
	b, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	if len(b) != len(dst) {
		return fmt.Errorf("expected %d bytes, got %d", len(dst), len(b))
	}
	copy(dst, b)
	return nil
}

// String returns the lowercase hex encoding.
func (c Commitment) String() string { return hex.EncodeToString(c[:]) }

// String returns the lowercase hex encoding.
func (r Root) String() string { return hex.EncodeToString(r[:]) }

// MarshalJSON encodes the commitment as a hex string.
func (c Commitment) MarshalJSON() ([]byte, error) { return json.Marshal(c.String()) }

// UnmarshalJSON decodes the commitment from a hex string.
func (c *Commitment) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseCommitment(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// MarshalJSON encodes the root as a hex string.
func (r Root) MarshalJSON() ([]byte, error) { return json.Marshal(r.String()) }

// UnmarshalJSON decodes the root from a hex string.
func (r *Root) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseRoot(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Identity is one row of the append-only identity ledger. Rows are written
// exactly once and never mutated or deleted.
type Identity struct {
	Commitment Commitment `json:"commitment"`
	LeafIndex  uint64     `json:"leaf_index"`
}

// RootCheckpoint records the tree root produced by appending a prefix of the
// identity sequence. All fields except Status and MinedAt are immutable once
// written.
//
// Leaf indexes are zero-based, so IdentityCount is always LastLeafIndex + 1.
// (LastIdentity, LastLeafIndex) must resolve to an existing ledger row; the
// stores enforce this inside the same atomic unit as the insert.
type RootCheckpoint struct {
	Root          Root       `json:"root"`
	LastIdentity  Commitment `json:"last_identity"`
	LastLeafIndex uint64     `json:"last_leaf_index"`
	IdentityCount uint64     `json:"identity_count"`
	Status        Status     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	MinedAt       *time.Time `json:"mined_at,omitempty"`
}
