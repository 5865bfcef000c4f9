package service

import "errors"

var (
	// ErrCodeNotFound means the requested content code is not registered.
	ErrCodeNotFound = errors.New("content code not found")
	// ErrUserNotFound means the ledger has no record for the given id.
	ErrUserNotFound = errors.New("user not found")
	// ErrDescriptorInvalid means an admin-supplied content value could not
	// be parsed into a delivery descriptor.
	ErrDescriptorInvalid = errors.New("content descriptor invalid")
)
