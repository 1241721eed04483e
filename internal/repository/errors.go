package repository

import "errors"

var (
	ErrRefreshTokenNotFound = errors.New("refresh token not found")
	ErrPrincipalNotFound    = errors.New("principal not found")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrDuplicate            = errors.New("duplicate record")
)
