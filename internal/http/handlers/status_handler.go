// README: Read-only status handlers over the running simulator.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"ridesim/internal/modules/ledger"
	"ridesim/internal/modules/simulator"
	"ridesim/internal/types"
)

// StatusSource is the part of the simulator the handlers read.
type StatusSource interface {
	Status() simulator.Status
	PersonRides(id types.ID) (*ledger.PersonRides, bool)
	Queue() []simulator.Scheduled
}

type StatusHandler struct {
	source StatusSource
}

func NewStatusHandler(source StatusSource) *StatusHandler {
	return &StatusHandler{source: source}
}

func (h *StatusHandler) Health(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

func (h *StatusHandler) Status(c *gin.Context) {
	writeJSON(c, http.StatusOK, h.source.Status())
}

func (h *StatusHandler) PersonRides(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid person id")
		return
	}
	pr, ok := h.source.PersonRides(types.ID(id))
	if !ok {
		writeError(c, http.StatusNotFound, "unknown person")
		return
	}
	writeJSON(c, http.StatusOK, pr)
}

// Queue lists the next scheduled notifications, at most limit (default 50).
func (h *StatusHandler) Queue(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 {
		writeError(c, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	items := h.source.Queue()
	if len(items) > limit {
		items = items[:limit]
	}
	writeJSON(c, http.StatusOK, gin.H{"items": items, "total": len(h.source.Queue())})
}
