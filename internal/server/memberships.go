package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

func (s *Server) GetMembershipByEmail(c *gin.Context) {
	email := strings.TrimSpace(c.Param("email"))

	membership, err := s.membershipSvc.GetByEmail(c.Request.Context(), email)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, membership)
}
