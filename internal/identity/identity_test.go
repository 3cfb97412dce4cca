package identity_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/idchain-labs/sequencer/internal/identity"
)

func TestParseCommitment(t *testing.T) {
	in := strings.Repeat("ab", 32)
	c, err := identity.ParseCommitment(in)
	if err != nil {
		t.Fatal(err)
	}
	if c.String() != in {
		t.Errorf("round trip: got %s", c.String())
	}

	for _, bad := range []string{"", "abcd", strings.Repeat("ab", 33), strings.Repeat("zz", 32)} {
		if _, err := identity.ParseCommitment(bad); err == nil {
			t.Errorf("ParseCommitment(%q): expected error", bad)
		}
	}
}

func TestRootJSON(t *testing.T) {
	in := strings.Repeat("0f", 32)
	r, err := identity.ParseRoot(in)
	if err != nil {
		t.Fatal(err)
	}

	b, err := json.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `"`+in+`"` {
		t.Errorf("marshal: got %s", b)
	}

	var back identity.Root
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatal(err)
	}
	if back != r {
		t.Error("unmarshal did not round trip")
	}

	if err := json.Unmarshal([]byte(`"abcd"`), &back); err == nil {
		t.Error("short hex: expected error")
	}
	if err := json.Unmarshal([]byte(`42`), &back); err == nil {
		t.Error("non-string: expected error")
	}
}

func TestCheckpointJSON_omitsUnminedTimestamp(t *testing.T) {
	cp := identity.RootCheckpoint{Status: identity.StatusPending}
	b, err := json.Marshal(cp)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(b), "mined_at") {
		t.Errorf("pending checkpoint serialised mined_at: %s", b)
	}
}

func TestParseStatus(t *testing.T) {
	for _, s := range []string{"pending", "mined"} {
		got, err := identity.ParseStatus(s)
		if err != nil {
			t.Errorf("ParseStatus(%q): %v", s, err)
		}
		if string(got) != s {
			t.Errorf("ParseStatus(%q): got %s", s, got)
		}
	}
	for _, bad := range []string{"", "failed", "Mined", "PENDING"} {
		if _, err := identity.ParseStatus(bad); err == nil {
			t.Errorf("ParseStatus(%q): expected error", bad)
		}
	}
}
