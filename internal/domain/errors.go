// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrValidation indicates a request failed domain validation.
var ErrValidation = errors.New("validation failed")

// ErrBudgetExceeded indicates the upstream model provider rejected the call
// because of a billing/quota limit. Callers should surface a "try again
// later" message rather than a generic failure.
var ErrBudgetExceeded = errors.New("model budget exceeded")

// ErrModelUnavailable indicates the requested model does not exist or is
// not currently served. Callers should suggest switching models.
var ErrModelUnavailable = errors.New("model unavailable")

// ErrLLM indicates a generic or transient model-provider failure
// (rate limit, network, 5xx) that is not budget- or availability-related.
var ErrLLM = errors.New("llm request failed")
