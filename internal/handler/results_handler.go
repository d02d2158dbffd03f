package handler

import (
	"net/http"

	"univote/internal/services"
	"univote/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
)

type ResultsHandler struct {
	service *services.ResultsService
}

func NewResultsHandler(service *services.ResultsService) *ResultsHandler {
	return &ResultsHandler{service: service}
}

func (h *ResultsHandler) Results(c *gin.Context) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	view, err := h.service.Results(c.Request.Context(), caller, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(view))
}

func (h *ResultsHandler) Snapshot(c *gin.Context) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	link, err := h.service.SnapshotURL(c.Request.Context(), caller, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(link))
}
