package server

import (
	"encoding/base64"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// HandleWebhook ingests a provider notification. The signature covers the
// transport-layer bytes exactly as sent, so a base64 transport envelope is
// decoded back to the original bytes before anything else touches them.
func (s *Server) HandleWebhook(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))

	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if isBase64Envelope(c.Request.Header) {
		decoded, err := base64.StdEncoding.DecodeString(string(payload))
		if err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		payload = decoded
	}

	if err := s.webhookSvc.IngestWebhook(c.Request.Context(), provider, payload, c.Request.Header); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func isBase64Envelope(headers http.Header) bool {
	return strings.EqualFold(strings.TrimSpace(headers.Get("Content-Transfer-Encoding")), "base64")
}
