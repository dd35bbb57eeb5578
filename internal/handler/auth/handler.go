package auth

import (
	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/intake-api/internal/service/otp"
	"github.com/jwalitptl/intake-api/pkg/errors"
	"github.com/jwalitptl/intake-api/pkg/httputil"
)

type Handler struct {
	service otp.OTPServicer
}

func NewHandler(service otp.OTPServicer) *Handler {
	return &Handler{service: service}
}

type issueRequest struct {
	AcctNo string `json:"acctNo" binding:"required"`
}

type verifyRequest struct {
	AcctNo string `json:"acctNo" binding:"required"`
	Code   string `json:"code" binding:"required"`
}

func (h *Handler) IssueCode(c *gin.Context) {
	var req issueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, errors.BadRequest("invalid request body", err))
		return
	}

	if err := h.service.Issue(c.Request.Context(), req.AcctNo); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, gin.H{"sent": true})
}

func (h *Handler) VerifyCode(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, errors.BadRequest("invalid request body", err))
		return
	}

	token, err := h.service.Verify(c.Request.Context(), req.AcctNo, req.Code)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, gin.H{"token": token})
}
