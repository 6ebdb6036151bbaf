package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/dentaldesk/internal/realtime"
	"github.com/charlesng35/dentaldesk/internal/repository"
	"github.com/charlesng35/dentaldesk/pkg/errors"
	"github.com/charlesng35/dentaldesk/pkg/response"
)

// RealtimeHandler upgrades authenticated HTTP connections into live
// collection streams.
type RealtimeHandler struct {
	hub      *realtime.Hub
	registry *repository.Registry
}

func NewRealtimeHandler(hub *realtime.Hub, registry *repository.Registry) *RealtimeHandler {
	return &RealtimeHandler{hub: hub, registry: registry}
}

// Stream handles GET /api/realtime?streams=patients,quotes
func (h *RealtimeHandler) Stream(c *gin.Context) {
	owner, ok := requireOwner(c)
	if !ok {
		return
	}
	if h.hub == nil || h.registry == nil {
		response.Error(c, errors.ErrNotFound)
		return
	}

	streams := gatherStreams(c)
	for _, stream := range streams {
		if _, ok := h.registry.Get(stream); !ok {
			response.Error(c, errors.NewBadRequest("unknown stream "+stream))
			return
		}
	}

	h.hub.Serve(owner, streams, c.Writer, c.Request)
}

func gatherStreams(c *gin.Context) []string {
	var raw []string
	raw = append(raw, c.QueryArray("stream")...)
	if list := c.Query("streams"); list != "" {
		raw = append(raw, strings.Split(list, ",")...)
	}
	return realtime.ParseStreams(strings.Join(raw, ","))
}
