package issuance

import "errors"

var (
	ErrEmptyBatch         = errors.New("issuance: no certificates to process")
	ErrCounterUnavailable = errors.New("issuance: could not read the certificate counter")
	ErrRenderFailed       = errors.New("issuance: rendering failed")
)

// ErrNotIssued wraps the per-record failure of a single issuance.
var ErrNotIssued = errors.New("issuance: certificate not issued")
