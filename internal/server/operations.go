package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) EventsGenerate(c *gin.Context) {
	generated, err := s.materializer.RunOnce(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"generated": generated}})
}

func (s *Server) WaitlistPromote(c *gin.Context) {
	promoted, expired, err := s.promoter.RunOnce(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"promoted": promoted, "expired": expired}})
}

func (s *Server) StripeWebhook(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	if err := s.reconciler.Handle(c.Request.Context(), body, c.GetHeader("Stripe-Signature")); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"received": true}})
}
