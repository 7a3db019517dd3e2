package service

import "errors"

var (
	ErrFollowSelf         = errors.New("cannot follow self")
	ErrAccountNotFound    = errors.New("account not found")
	ErrPostNotFound       = errors.New("post not found")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrNotPostOwner       = errors.New("post belongs to another account")
	ErrInvalidPost        = errors.New("post body must be 1 to 140 characters")
	ErrInvalidProfile     = errors.New("invalid profile")
)
