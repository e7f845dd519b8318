package handler

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/d60-Lab/socialfeed/internal/auth"
	"github.com/d60-Lab/socialfeed/internal/service"
	"github.com/d60-Lab/socialfeed/internal/timeline"
	"github.com/d60-Lab/socialfeed/pkg/response"
)

// writeError 把领域错误映射成 HTTP 状态；未知错误一律 500
func writeError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		response.BadRequest(c, err.Error())
	case errors.Is(err, service.ErrUnauthenticated),
		errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrNotSignedIn):
		response.Unauthorized(c, err.Error())
	case errors.Is(err, service.ErrForbidden):
		response.Forbidden(c, err.Error())
	case errors.Is(err, service.ErrPostNotFound),
		errors.Is(err, service.ErrUserNotFound),
		errors.Is(err, service.ErrSessionNotFound),
		errors.Is(err, timeline.ErrSessionClosed):
		response.NotFound(c, err.Error())
	case errors.Is(err, service.ErrAlreadyLiked),
		errors.Is(err, service.ErrNotLiked),
		errors.Is(err, service.ErrAlreadyReposted),
		errors.Is(err, service.ErrNotReposted),
		errors.Is(err, auth.ErrEmailTaken),
		errors.Is(err, timeline.ErrFetchInFlight),
		errors.Is(err, timeline.ErrSuperseded):
		response.Conflict(c, err.Error())
	case errors.Is(err, service.ErrFollowSelf),
		errors.Is(err, service.ErrEmptyPost),
		errors.Is(err, service.ErrPostTooLong),
		errors.Is(err, service.ErrInvalidProfile),
		errors.Is(err, timeline.ErrInvalidCursor):
		response.BadRequest(c, err.Error())
	case errors.Is(err, service.ErrTooManySessions):
		response.TooManyRequests(c)
	default:
		response.InternalError(c, err)
	}
}
