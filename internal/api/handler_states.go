package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"wallbox-bridge/internal/store"
)

// RequestIDHeader carries the id of an accepted write.
const RequestIDHeader = "X-Request-ID"

// objectResponse is one declared node with its display states decoded.
type objectResponse struct {
	Path   string         `json:"path"`
	Name   string         `json:"name"`
	Type   string         `json:"type"`
	Role   string         `json:"role"`
	Unit   string         `json:"unit,omitempty"`
	Read   bool           `json:"read"`
	Write  bool           `json:"write"`
	States map[int]string `json:"states,omitempty"`
}

// GetObjects handles GET /api/objects.
func (h *Handler) GetObjects(c *gin.Context) {
	objects, err := h.store.Objects(c.Request.Context())
	if err != nil {
		h.log.Error("failed to list objects", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve objects"})
		return
	}

	response := make([]objectResponse, 0, len(objects))
	for _, o := range objects {
		states, err := o.DecodeStates()
		if err != nil {
			h.log.Warn("ignoring malformed states of object", zap.String("path", o.Path), zap.Error(err))
		}
		response = append(response, objectResponse{
			Path:   o.Path,
			Name:   o.Name,
			Type:   o.Type,
			Role:   o.Role,
			Unit:   o.Unit,
			Read:   o.Read,
			Write:  o.Write,
			States: states,
		})
	}
	c.JSON(http.StatusOK, response)
}

// GetStates handles GET /api/states?prefix=.
func (h *Handler) GetStates(c *gin.Context) {
	states, err := h.store.States(c.Request.Context(), c.Query("prefix"))
	if err != nil {
		h.log.Error("failed to list states", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve states"})
		return
	}
	c.JSON(http.StatusOK, states)
}

// GetState handles GET /api/states/*path.
func (h *Handler) GetState(c *gin.Context) {
	path := statePath(c)
	state, err := h.store.State(c.Request.Context(), path)
	if err != nil {
		h.writeStoreError(c, path, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

type putStateRequest struct {
	Val any `json:"val"`
}

// PutState handles PUT /api/states/*path. The write is stored unacknowledged
// and executed asynchronously; the response carries the request id that the
// resulting command is logged with.
func (h *Handler) PutState(c *gin.Context) {
	var req putStateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Val == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "val is required"})
		return
	}

	path := statePath(c)
	id := uuid.NewString()
	ctx := store.WithRequestID(c.Request.Context(), id)

	if err := h.store.SetState(ctx, path, req.Val, false); err != nil {
		h.writeStoreError(c, path, err)
		return
	}

	h.log.Info("accepted state write", zap.String("path", path), zap.String("request", id))
	c.Header(RequestIDHeader, id)
	c.JSON(http.StatusAccepted, gin.H{"path": path, "request_id": id})
}

func (h *Handler) writeStoreError(c *gin.Context, path string, err error) {
	var invalid *store.InvalidValueError
	switch {
	case errors.Is(err, store.ErrUnknownPath), errors.Is(err, store.ErrNoValue):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrNotWritable):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.As(err, &invalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.log.Error("state store failure", zap.String("path", path), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to access state"})
	}
}

// statePath accepts both dotted and slash separated paths.
func statePath(c *gin.Context) string {
	p := strings.Trim(c.Param("path"), "/")
	return strings.ReplaceAll(p, "/", ".")
}
