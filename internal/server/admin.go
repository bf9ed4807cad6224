package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/jijenga/referral/internal/auth"
	invitationdomain "github.com/jijenga/referral/internal/invitation/domain"
	paymentdomain "github.com/jijenga/referral/internal/payment/domain"
	"github.com/jijenga/referral/pkg/db/pagination"
)

type createInvitationRequest struct {
	Email string `json:"email"`
}

func (s *Server) CreateInvitation(c *gin.Context) {
	principal := auth.PrincipalFromGin(c)
	if principal == nil {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req createInvitationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	invitation, err := s.invitationSvc.Invite(c.Request.Context(), invitationdomain.InviteRequest{
		Email:     req.Email,
		InvitedBy: &principal.ID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, invitation)
}

type listPaymentsQuery struct {
	Status  string `form:"status"`
	BatchID string `form:"batch_id"`
	pagination.Pagination
}

func (s *Server) ListPayments(c *gin.Context) {
	var query listPaymentsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.paymentSvc.List(c.Request.Context(), paymentdomain.ListFilter{
		Status:     paymentdomain.PaymentStatus(strings.ToUpper(strings.TrimSpace(query.Status))),
		BatchID:    strings.TrimSpace(query.BatchID),
		Pagination: query.Pagination,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) GetPaymentByID(c *gin.Context) {
	id, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	payment, err := s.paymentSvc.FindByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, payment)
}

// CreatePaymentBatch runs the batcher on demand. The scheduler covers the
// periodic case; this endpoint exists for month-end runs finance triggers
// by hand.
func (s *Server) CreatePaymentBatch(c *gin.Context) {
	result, err := s.paymentSvc.CreateBatches(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) ApprovePayment(c *gin.Context) {
	principal := auth.PrincipalFromGin(c)
	if principal == nil {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	id, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	payment, err := s.paymentSvc.Approve(c.Request.Context(), id, principal.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, payment)
}
