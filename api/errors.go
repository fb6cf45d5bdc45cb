package api

import (
	"errors"
	"net/http"

	"github.com/ZamarianPatrick/waterplant-backend/scheduler"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// retryAfter is how long a device should wait before polling a busy device
// slot again, in seconds.
const retryAfter = "1"

func (r *Resolver) fail(c *gin.Context, err error) {
	var verr *scheduler.ValidationError

	switch {
	case errors.As(err, &verr):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": verr.Message, "field": verr.Field})
	case errors.Is(err, scheduler.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, scheduler.ErrForbidden):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, scheduler.ErrConflict):
		c.Header("Retry-After", retryAfter)
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		r.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
