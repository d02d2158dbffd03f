package handler

import (
	"context"
	"net/http"

	"univote/internal/services"
	"univote/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type VoteHandler struct {
	service *services.VoteService
}

func NewVoteHandler(service *services.VoteService) *VoteHandler {
	return &VoteHandler{service: service}
}

type flowStep func(ctx context.Context, caller services.Caller, flowID uuid.UUID) (services.FlowView, error)

// step runs a body-less flow operation. The flow is returned alongside
// errors so the client can follow state changes such as an abort.
func (h *VoteHandler) step(fn flowStep) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := callerOrAbort(c)
		if !ok {
			return
		}
		id, ok := uuidParam(c, "flowId")
		if !ok {
			return
		}
		view, err := fn(c.Request.Context(), caller, id)
		respondFlow(c, view, err)
	}
}

func respondFlow(c *gin.Context, view services.FlowView, err error) {
	if err != nil {
		resp := httpdto.Response[services.FlowView]{
			Success: false,
			Error:   err.Error(),
			Code:    services.ErrorCode(err),
		}
		if view.ID != "" {
			resp.Data = view
		}
		c.JSON(services.HTTPStatus(err), resp)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(view))
}

func (h *VoteHandler) Start(c *gin.Context) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}
	pollID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	view, err := h.service.StartFlow(c.Request.Context(), caller, pollID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, httpdto.NewSuccessResponse(view))
}

func (h *VoteHandler) Get(c *gin.Context) { h.step(h.service.Get)(c) }

func (h *VoteHandler) Review(c *gin.Context) { h.step(h.service.Review)(c) }

func (h *VoteHandler) Back(c *gin.Context) { h.step(h.service.Back)(c) }

func (h *VoteHandler) RequestCode(c *gin.Context) { h.step(h.service.RequestCode)(c) }

func (h *VoteHandler) ResendCode(c *gin.Context) { h.step(h.service.ResendCode)(c) }

func (h *VoteHandler) Submit(c *gin.Context) { h.step(h.service.Submit)(c) }

func (h *VoteHandler) Abort(c *gin.Context) { h.step(h.service.Abort)(c) }

func (h *VoteHandler) Select(c *gin.Context) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}
	id, ok := uuidParam(c, "flowId")
	if !ok {
		return
	}
	var req httpdto.SelectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "option_ids is required")
		return
	}
	view, err := h.service.Select(c.Request.Context(), caller, id, req.OptionIDs)
	respondFlow(c, view, err)
}

func (h *VoteHandler) Verify(c *gin.Context) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}
	id, ok := uuidParam(c, "flowId")
	if !ok {
		return
	}
	var req httpdto.VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "code is required")
		return
	}
	view, err := h.service.Verify(c.Request.Context(), caller, id, req.Code)
	respondFlow(c, view, err)
}
