package auth

import "errors"

var (
	// ErrInvalidCredentials is deliberately uniform across "no such user"
	// and "wrong password" to prevent user enumeration.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	ErrAlreadyExists = errors.New("auth: already exists")
	ErrNotFound      = errors.New("auth: not found")
	ErrInvalidInput  = errors.New("auth: invalid input")
)
