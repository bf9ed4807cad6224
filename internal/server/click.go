package server

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
)

// TrackClick records a referral link visit and forwards the visitor to the
// registration page carrying the code.
func (s *Server) TrackClick(c *gin.Context) {
	code := strings.TrimSpace(c.Param("code"))
	if code == "" {
		AbortWithError(c, invalidRequestError())
		return
	}

	if err := s.referralSvc.Click(c.Request.Context(), code); err != nil {
		AbortWithError(c, err)
		return
	}

	target := s.cfg.ReferralBaseURL + "/register?code=" + url.QueryEscape(strings.ToUpper(code))
	c.Redirect(http.StatusFound, target)
}
