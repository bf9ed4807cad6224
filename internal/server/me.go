package server

import (
	"errors"
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/jijenga/referral/internal/auth"
	linkdomain "github.com/jijenga/referral/internal/referrallink/domain"
)

type myLinkResponse struct {
	Link     *linkdomain.ReferralLink `json:"link"`
	ShareURL string                   `json:"share_url"`
}

// GetMyLink returns the caller's referral link. Participants whose link
// allocation was deferred at registration get one allocated here.
func (s *Server) GetMyLink(c *gin.Context) {
	principal := auth.PrincipalFromGin(c)
	if principal == nil {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	link, err := s.linkSvc.FindByOwner(c.Request.Context(), principal.ID)
	if errors.Is(err, linkdomain.ErrLinkNotFound) {
		link, err = s.linkSvc.Allocate(c.Request.Context(), principal.ID)
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, myLinkResponse{
		Link:     link,
		ShareURL: s.cfg.ReferralBaseURL + "/r/" + link.Code,
	})
}

// GetMyReferral returns one referral attributed to the caller's link.
func (s *Server) GetMyReferral(c *gin.Context) {
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

	referral, err := s.referralSvc.FindByID(c.Request.Context(), int64(id))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	link, err := s.linkSvc.FindByOwner(c.Request.Context(), principal.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if referral.ReferralLinkID != link.ID {
		AbortWithError(c, ErrNotFound)
		return
	}

	c.JSON(http.StatusOK, referral)
}
