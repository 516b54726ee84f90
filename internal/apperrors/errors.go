package apperrors

import (
	"errors"
)

var (
	ErrUserAlreadyExists  = errors.New("user already exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid credentials")

	ErrProfileConflict = errors.New("profile already exists")

	ErrTokenMalformed     = errors.New("token is malformed")
	ErrTokenBadSignature  = errors.New("token signature is invalid")
	ErrTokenExpired       = errors.New("token is expired")
	ErrTokenRevoked       = errors.New("token is revoked")
	ErrTokenReuseDetected = errors.New("refresh token reuse detected")
	ErrTokenCompromised   = errors.New("token family is compromised")

	ErrRefreshTokenNotFound = errors.New("refresh token not found")
)
