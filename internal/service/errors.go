package service

import "errors"

var (
	ErrFollowSelf      = errors.New("cannot follow self")
	ErrUnauthenticated = errors.New("sign in required")
	ErrForbidden       = errors.New("not allowed")
	ErrPostNotFound    = errors.New("post not found")
	ErrUserNotFound    = errors.New("user not found")
	ErrEmptyPost       = errors.New("post text is empty")
	ErrPostTooLong     = errors.New("post text too long")
	ErrAlreadyLiked    = errors.New("post already liked")
	ErrNotLiked        = errors.New("post not liked")
	ErrAlreadyReposted = errors.New("post already reposted")
	ErrNotReposted     = errors.New("post not reposted")
	ErrInvalidProfile  = errors.New("invalid profile")
	ErrSessionNotFound = errors.New("timeline session not found")
	ErrTooManySessions = errors.New("too many timeline sessions")
)
