// Package jwt issues and validates HS256 access tokens.
//
// Access tokens are self-contained and never persisted. Validation reports a
// structured [ValidationResult] instead of an error so that callers can
// branch on the failure reason without string matching.
package jwt
