package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lprior-repo/nuoc-sub001/internal/domain"
	"github.com/lprior-repo/nuoc-sub001/internal/http/response"
	"github.com/lprior-repo/nuoc-sub001/internal/platform/apperr"
)

// AwakeableStore is the subset of *store.Store the control plane needs to
// resolve/reject awakeables.
type AwakeableStore interface {
	ResolveAwakeable(id string, payload []byte) (*domain.Awakeable, error)
	RejectAwakeable(id string, errMsg string) (*domain.Awakeable, error)
}

// AwakeableHandler implements the two write endpoints external systems use
// to settle a durable promise: POST /awakeables/:id/resolve and
// POST /awakeables/:id/reject. Both reuse store.ResolveAwakeable/
// RejectAwakeable directly — the control plane adds no business logic
// beyond request parsing and response shaping.
type AwakeableHandler struct {
	store AwakeableStore
}

func NewAwakeableHandler(store AwakeableStore) *AwakeableHandler {
	return &AwakeableHandler{store: store}
}

// Resolve handles POST /awakeables/:id/resolve. The request body is any
// JSON value, stored verbatim as the awakeable's payload.
func (h *AwakeableHandler) Resolve(c *gin.Context) {
	id := c.Param("id")
	payload, err := readJSONBody(c)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	row, err := h.store.ResolveAwakeable(id, payload)
	if err != nil {
		writeAwakeableError(c, err)
		return
	}
	response.RespondOK(c, gin.H{
		"success":      true,
		"awakeable_id": row.ID,
		"payload":      json.RawMessage(row.Payload),
	})
}

// Reject handles POST /awakeables/:id/reject. The request body must be
// {"error": string}.
func (h *AwakeableHandler) Reject(c *gin.Context) {
	id := c.Param("id")
	var body struct {
		Error string `json:"error"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	row, err := h.store.RejectAwakeable(id, body.Error)
	if err != nil {
		writeAwakeableError(c, err)
		return
	}
	response.RespondOK(c, gin.H{
		"success":      true,
		"awakeable_id": row.ID,
		"error":        row.Error,
	})
}

func readJSONBody(c *gin.Context) ([]byte, error) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return []byte("null"), nil
	}
	if !json.Valid(raw) {
		return nil, errors.New("body is not valid JSON")
	}
	return raw, nil
}

// writeAwakeableError maps the engine's sealed error kinds onto
// HTTP status codes: NotFound -> 404, NotPending -> 4xx with the current
// state in the message, everything else -> 400.
func writeAwakeableError(c *gin.Context, err error) {
	var ae *apperr.Error
	if apperr.As(err, &ae) {
		switch ae.Kind {
		case apperr.KindNotFound:
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": ae.Error()})
			return
		case apperr.KindNotPending:
			c.JSON(http.StatusConflict, gin.H{"success": false, "error": ae.Error()})
			return
		}
	}
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
}
