// Package handler exposes the sequencer's operations over HTTP.
package handler

import (
	"context"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/idchain-labs/sequencer/internal/identity"
	"github.com/idchain-labs/sequencer/internal/merkletree"
	"github.com/idchain-labs/sequencer/internal/sequencer"
	"github.com/idchain-labs/sequencer/internal/store"
	"github.com/idchain-labs/sequencer/internal/webhooks"
)

// Dispatcher is an optional callback for fanning out root lifecycle events
// to webhook subscribers.
type Dispatcher func(ctx context.Context, eventType string, payload map[string]string)

// CheckpointHandler wires the sequencer, mining coordinator, and store into
// the HTTP API.
type CheckpointHandler struct {
	seq      *sequencer.Sequencer
	miner    *sequencer.MiningCoordinator
	store    store.Store
	dispatch Dispatcher
	logger   *zap.Logger
}

// NewCheckpointHandler creates a new CheckpointHandler.
func NewCheckpointHandler(seq *sequencer.Sequencer, miner *sequencer.MiningCoordinator, st store.Store, logger *zap.Logger) *CheckpointHandler {
	return &CheckpointHandler{seq: seq, miner: miner, store: st, logger: logger}
}

// SetDispatcher configures the event dispatch callback.
func (h *CheckpointHandler) SetDispatcher(fn Dispatcher) {
	h.dispatch = fn
}

// Register mounts the API routes on the given router group.
func (h *CheckpointHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/identities", h.AppendIdentity)
	rg.GET("/identities/:index", h.GetIdentity)
	rg.GET("/identities/:index/proof", h.GetInclusionProof)
	rg.GET("/roots", h.ListRoots)
	rg.GET("/roots/latest", h.GetLatest)
	rg.GET("/roots/:root", h.GetRoot)
	rg.POST("/roots/:root/mined", h.MarkMined)
	rg.GET("/verify", h.Verify)
}

type appendRequest struct {
	Commitment string `json:"commitment" binding:"required"`
}

// AppendIdentity handles POST /identities — appends a commitment and
// returns the resulting checkpoint.
func (h *CheckpointHandler) AppendIdentity(c *gin.Context) {
	var req appendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	commitment, err := identity.ParseCommitment(req.Commitment)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "commitment must be 32 bytes of hex"})
		return
	}

	cp, err := h.seq.AppendIdentity(c.Request.Context(), commitment)
	if err != nil {
		h.logger.Error("append identity", zap.Error(err))
		h.writeError(c, err)
		return
	}
	RecordAppend()
	if h.dispatch != nil {
		h.dispatch(c.Request.Context(), webhooks.EventRootRecorded, map[string]string{
			"root":           cp.Root.String(),
			"leaf_index":     strconv.FormatUint(cp.LastLeafIndex, 10),
			"identity_count": strconv.FormatUint(cp.IdentityCount, 10),
		})
	}
	c.JSON(http.StatusCreated, cp)
}

// GetIdentity handles GET /identities/:index.
func (h *CheckpointHandler) GetIdentity(c *gin.Context) {
	idx, err := strconv.ParseUint(c.Param("index"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "index must be a non-negative integer"})
		return
	}

	commitment, err := h.store.GetIdentity(c.Request.Context(), idx)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, identity.Identity{Commitment: commitment, LeafIndex: idx})
}

type inclusionProofResponse struct {
	LeafIndex     uint64              `json:"leaf_index"`
	Commitment    identity.Commitment `json:"commitment"`
	Root          identity.Root       `json:"root"`
	IdentityCount uint64              `json:"identity_count"`
	Proof         []string            `json:"proof"`
}

// GetInclusionProof handles GET /identities/:index/proof — an RFC 6962
// inclusion proof for the leaf against the current root. Proofs are rebuilt
// from a ledger scan, so the endpoint is O(n) in the ledger size.
func (h *CheckpointHandler) GetInclusionProof(c *gin.Context) {
	idx, err := strconv.ParseUint(c.Param("index"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "index must be a non-negative integer"})
		return
	}

	cp, err := h.store.LatestCheckpoint(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	if idx >= cp.IdentityCount {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}

	var commitments []identity.Commitment
	if _, err := h.store.Scan(c.Request.Context(), 0, func(_ uint64, cm identity.Commitment) error {
		commitments = append(commitments, cm)
		return nil
	}); err != nil {
		h.writeError(c, err)
		return
	}
	if uint64(len(commitments)) < cp.IdentityCount {
		h.logger.Error("ledger shorter than checkpoint",
			zap.Uint64("ledger", uint64(len(commitments))),
			zap.Uint64("checkpoint", cp.IdentityCount))
		c.JSON(http.StatusInternalServerError, gin.H{"error": store.ErrIntegrity.Error()})
		return
	}
	// Appends may land between the checkpoint read and the scan; the proof
	// is built over exactly the prefix the checkpoint covers.
	commitments = commitments[:cp.IdentityCount]

	pb := merkletree.NewProofBuilder(commitments)
	proofHashes, err := pb.Inclusion(idx)
	if err != nil {
		h.logger.Error("build inclusion proof", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	encoded := make([]string, len(proofHashes))
	for i, p := range proofHashes {
		encoded[i] = hex.EncodeToString(p)
	}
	c.JSON(http.StatusOK, inclusionProofResponse{
		LeafIndex:     idx,
		Commitment:    commitments[idx],
		Root:          cp.Root,
		IdentityCount: cp.IdentityCount,
		Proof:         encoded,
	})
}

type markMinedRequest struct {
	MinedAt *time.Time `json:"mined_at"`
}

// MarkMined handles POST /roots/:root/mined — records an external mining
// confirmation for the root.
func (h *CheckpointHandler) MarkMined(c *gin.Context) {
	root, err := identity.ParseRoot(c.Param("root"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "root must be 32 bytes of hex"})
		return
	}

	var req markMinedRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var minedAt time.Time
	if req.MinedAt != nil {
		minedAt = *req.MinedAt
	}

	if err := h.miner.MarkMined(c.Request.Context(), root, minedAt); err != nil {
		h.writeError(c, err)
		return
	}
	RecordMined()
	if h.dispatch != nil {
		h.dispatch(c.Request.Context(), webhooks.EventRootMined, map[string]string{
			"root": root.String(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"root": root.String(), "status": string(identity.StatusMined)})
}

// GetRoot handles GET /roots/:root.
func (h *CheckpointHandler) GetRoot(c *gin.Context) {
	root, err := identity.ParseRoot(c.Param("root"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "root must be 32 bytes of hex"})
		return
	}

	cp, err := h.store.GetCheckpoint(c.Request.Context(), root)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cp)
}

// GetLatest handles GET /roots/latest — the checkpoint with the highest
// identity count.
func (h *CheckpointHandler) GetLatest(c *gin.Context) {
	cp, err := h.store.LatestCheckpoint(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cp)
}

// ListRoots handles GET /roots?status= — checkpoints filtered by status.
func (h *CheckpointHandler) ListRoots(c *gin.Context) {
	status, err := identity.ParseStatus(c.DefaultQuery("status", string(identity.StatusPending)))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cps, err := h.store.ListByStatus(c.Request.Context(), status)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"checkpoints": cps, "count": len(cps)})
}

// Verify handles GET /verify — walks the persisted state and reports
// whether the core invariants hold.
func (h *CheckpointHandler) Verify(c *gin.Context) {
	if err := h.store.Verify(c.Request.Context()); err != nil {
		h.logger.Warn("integrity check failed", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"valid": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true, "halted": h.seq.Halted()})
}

// writeError maps the error taxonomy onto HTTP status codes.
func (h *CheckpointHandler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, store.ErrDuplicateRoot),
		errors.Is(err, store.ErrDuplicateLeaf),
		errors.Is(err, store.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, sequencer.ErrHalted):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrIntegrity):
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	case store.IsTransient(err):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable, retry"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
