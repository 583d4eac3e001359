package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/prsentry/prsentry/pkg/response"
)

// Health reports process liveness and whether reviews run asynchronously.
func Health(isAsync bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		response.Success(c, gin.H{
			"status": "ok",
			"async":  isAsync,
		})
	}
}
