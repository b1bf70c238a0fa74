// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// This file centralizes symbolic error code constants that are mapped to HTTP responses
// (via the `fail()` helper in this package). These codes give webhook senders,
// the checkout collaborator and operators a stable, machine-readable error
// taxonomy that supplements human-readable messages.
//
// Conventions:
//   - Codes are lowercase, snake_case, and domain-agnostic unless explicitly noted.
//   - Generic codes (e.g., bad_request, unauthorized, conflict) mirror common HTTP
//     status semantics to aid interoperability.
//   - Domain-specific codes (e.g., invalid_signature, feature_disabled) are reserved
//     for pipeline errors that cannot be conveyed by status alone.
//   - All error responses must include both an HTTP status and one of these codes.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "invalid_signature",
//	  "message": "webhook signature invalid"
//	}
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeForbidden        = "forbidden"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeUnavailable      = "service_unavailable"

	// Domain-specific:
	ErrCodeInvalidSignature  = "invalid_signature"
	ErrCodeUnparseable       = "unparseable_payload"
	ErrCodeUnknownSource     = "unknown_source"
	ErrCodeFeatureDisabled   = "feature_disabled"
	ErrCodeReplayNotAllowed  = "replay_not_allowed"
	ErrCodeInvalidOrder      = "invalid_order"
	ErrCodeInvalidTransition = "invalid_transition"
	ErrCodeNotFulfilled      = "order_not_fulfilled"
	ErrCodeInvalidRule       = "invalid_rule"
	ErrCodeRuleExists        = "rule_exists"
	ErrCodeInvalidProduct    = "invalid_product"
	ErrCodeUnknownFlag       = "unknown_flag"
)
