package handler

import (
	"net/http"

	"univote/internal/domain/poll"
	"univote/internal/services"
	"univote/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
)

type PollHandler struct {
	service *services.PollService
}

func NewPollHandler(service *services.PollService) *PollHandler {
	return &PollHandler{service: service}
}

func toPollDTO(v services.PollView) httpdto.PollDTO {
	return httpdto.NewPollDTO(v.Poll, v.Status)
}

func (h *PollHandler) List(c *gin.Context) {
	views, err := h.service.List(c.Request.Context(), c.Query("published") == "true")
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]httpdto.PollDTO, 0, len(views))
	for _, v := range views {
		out = append(out, toPollDTO(v))
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(out))
}

func (h *PollHandler) Get(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	v, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(toPollDTO(v)))
}

func (h *PollHandler) Create(c *gin.Context) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}
	var req httpdto.CreatePollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	v, err := h.service.Create(c.Request.Context(), caller, services.CreatePollInput{
		Title:       req.Title,
		Description: req.Description,
		Type:        poll.Type(req.Type),
		Options:     req.Options,
		Parties:     req.Parties,
		StartsAt:    req.StartsAt,
		EndsAt:      req.EndsAt,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, httpdto.NewSuccessResponse(toPollDTO(v)))
}

func (h *PollHandler) SetPublished(c *gin.Context) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req httpdto.PublishRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Published == nil {
		badRequest(c, "published is required")
		return
	}
	v, err := h.service.SetPublished(c.Request.Context(), caller, id, *req.Published)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(toPollDTO(v)))
}

func (h *PollHandler) Close(c *gin.Context) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	v, err := h.service.Close(c.Request.Context(), caller, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(toPollDTO(v)))
}

func (h *PollHandler) Delete(c *gin.Context) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	if err := h.service.Delete(c.Request.Context(), caller, id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"deleted": id.String()}))
}

func (h *PollHandler) HasVoted(c *gin.Context) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	voted, err := h.service.HasVoted(c.Request.Context(), caller, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.HasVotedResponse{PollID: id.String(), Voted: voted}))
}
