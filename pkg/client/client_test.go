package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/idchain-labs/sequencer/pkg/client"
)

var ctx = context.Background()

func hexValue(b byte) string {
	return fmt.Sprintf("%064x", b)
}

func newServer(t *testing.T, handler http.HandlerFunc) *client.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return client.New(srv.URL, client.WithHTTPClient(srv.Client()))
}

func TestAppendIdentity(t *testing.T) {
	root := hexValue(0xaa)
	commitment := hexValue(0x01)

	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/identities" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req["commitment"] != commitment {
			t.Errorf("commitment: got %s", req["commitment"])
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"root":            root,
			"last_identity":   commitment,
			"last_leaf_index": 0,
			"identity_count":  1,
			"status":          "pending",
			"created_at":      time.Now().UTC(),
		})
	})

	cp, err := c.AppendIdentity(ctx, commitment)
	if err != nil {
		t.Fatal(err)
	}
	if cp.Root != root || cp.IdentityCount != 1 || cp.Status != "pending" {
		t.Errorf("checkpoint: %+v", cp)
	}
}

func TestMarkMined_timestampHandling(t *testing.T) {
	root := hexValue(0xaa)
	var gotBody []byte

	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/roots/"+root+"/mined" {
			t.Errorf("path: %s", r.URL.Path)
		}
		buf := make([]byte, 256)
		n, _ := r.Body.Read(buf)
		gotBody = buf[:n]
		_ = json.NewEncoder(w).Encode(map[string]string{"root": root, "status": "mined"})
	})

	// Zero time: no body sent, the service picks the timestamp.
	if err := c.MarkMined(ctx, root, time.Time{}); err != nil {
		t.Fatal(err)
	}
	if len(gotBody) != 0 {
		t.Errorf("zero time sent a body: %s", gotBody)
	}

	// Explicit time: serialised as mined_at.
	if err := c.MarkMined(ctx, root, time.Now()); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(gotBody), "mined_at") {
		t.Errorf("explicit time body: %s", gotBody)
	}
}

func TestErrorMapping(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "missing"):
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "not found"})
		case strings.Contains(r.URL.Path, "mined"):
			w.WriteHeader(http.StatusConflict)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid status transition"})
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	})

	_, err := c.GetCheckpoint(ctx, "missing")
	if !errors.Is(err, client.ErrNotFound) {
		t.Errorf("404: expected ErrNotFound, got %v", err)
	}

	err = c.MarkMined(ctx, hexValue(1), time.Now())
	if !errors.Is(err, client.ErrConflict) {
		t.Errorf("409: expected ErrConflict, got %v", err)
	}

	_, err = c.GetLatest(ctx)
	if err == nil || errors.Is(err, client.ErrNotFound) || errors.Is(err, client.ErrConflict) {
		t.Errorf("500: expected generic error, got %v", err)
	}
}

func TestListByStatus(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("status") != "mined" {
			t.Errorf("status query: %s", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"checkpoints": []map[string]any{
				{"root": hexValue(1), "identity_count": 1, "status": "mined"},
				{"root": hexValue(2), "identity_count": 2, "status": "mined"},
			},
			"count": 2,
		})
	})

	cps, err := c.ListByStatus(ctx, "mined")
	if err != nil {
		t.Fatal(err)
	}
	if len(cps) != 2 || cps[1].IdentityCount != 2 {
		t.Errorf("checkpoints: %+v", cps)
	}
}

func TestGetIdentity(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/identities/7" {
			t.Errorf("path: %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"commitment": hexValue(9),
			"leaf_index": 7,
		})
	})

	id, err := c.GetIdentity(ctx, 7)
	if err != nil {
		t.Fatal(err)
	}
	if id.LeafIndex != 7 || id.Commitment != hexValue(9) {
		t.Errorf("identity: %+v", id)
	}
}
