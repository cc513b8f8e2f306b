package internal

import "errors"

var (
	// ErrInvalidURL rejects URLs that are not absolute http/https with a host.
	ErrInvalidURL = errors.New("invalid URL: must start with http:// or https://")

	// ErrInvalidCodeFormat rejects custom codes outside [A-Za-z0-9_-]{1,20}.
	ErrInvalidCodeFormat = errors.New("custom code may only contain letters, numbers, hyphens and underscores, up to 20 characters")

	// ErrCodeTaken reports that a requested custom code already exists.
	ErrCodeTaken = errors.New("custom code already exists")

	// ErrAllocationExhausted reports that the random-code retry budget ran
	// out. Transient: the caller may retry the whole request.
	ErrAllocationExhausted = errors.New("unable to generate unique short code")

	// ErrNotFound reports that no mapping exists for a short code.
	ErrNotFound = errors.New("short code not found")

	// ErrDuplicateCode is the storage-level uniqueness violation. The
	// allocator's retry loop absorbs it for generated codes.
	ErrDuplicateCode = errors.New("short code already exists")
)
