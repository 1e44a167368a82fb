package controllers

import (
	"net/http"

	"checkout-service/apperrors"
	"checkout-service/logging"
	"checkout-service/middlewares"

	"github.com/gin-gonic/gin"
)

func success(c *gin.Context, status int, data any, msg string) {
	c.JSON(status, gin.H{"success": true, "message": msg, "data": data})
}

// statusOf maps an error kind to its HTTP status.
func statusOf(err error) int {
	switch apperrors.KindOf(err) {
	case apperrors.NotFoundKind:
		return http.StatusNotFound
	case apperrors.BusinessRuleKind:
		return http.StatusBadRequest
	case apperrors.DuplicateKind, apperrors.ConflictKind:
		return http.StatusConflict
	case apperrors.UnavailableKind:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		logging.From(c).Error("request failed", "err", err)
	} else {
		logging.From(c).Warn("request rejected", "status", status, "err", err)
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"success": false, "error": apperrors.Message(err)})
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
}

func recordOperation(c *gin.Context, op string) {
	middlewares.RecordOrderOperation(op, c.Writer.Status())
}
