// Package errs provides error handling for the dataset schema pipeline.
//
// It re-exports github.com/cockroachdb/errors so callers get stack traces and
// wrapping for free, and defines the sentinel errors the pipeline controller
// and CLI classify on.
package errs

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping.
var (
	New    = crdb.New
	Newf   = crdb.Newf
	Wrap   = crdb.Wrap
	Wrapf  = crdb.Wrapf
	Is     = crdb.Is
	As     = crdb.As
	Unwrap = crdb.Unwrap
	Join   = crdb.Join

	WithHint   = crdb.WithHint
	WithDetail = crdb.WithDetail
)

// Sentinels the controller and CLI classify on. Wrap these with Wrap/Wrapf to
// add context while preserving the class.
var (
	// ErrConfiguration marks a missing or contradictory caller-supplied input
	// (disabled stage without a substitute, unparsable repository reference,
	// absent credential). Never retried.
	ErrConfiguration = New("configuration error")

	// ErrValidationExhausted marks the input-generation retry loop running out
	// of attempts without an acceptable variant set.
	ErrValidationExhausted = New("input validation exhausted")

	// ErrNoDataFound marks zero discoverable datasets where at least one is
	// required. Distinct from a schema validation that examined data and failed.
	ErrNoDataFound = New("no datasets found")

	// ErrSchemaShape marks a schema document that is structurally unusable:
	// malformed JSON from the enhancer, a missing fields object, or a changed
	// field set.
	ErrSchemaShape = New("schema shape error")

	// ErrValidationFailed marks a completed dataset validation whose success
	// rate fell below the required threshold.
	ErrValidationFailed = New("schema validation failed")

	// ErrPublishLocationNotFound marks an actor metadata file absent from every
	// known repository location.
	ErrPublishLocationNotFound = New("actor metadata file not found")

	// ErrPublishAtomicity marks a publish step failing after a prior step
	// already wrote to the repository; the orphaned branch/commit is inert but
	// the run must not be reported as published.
	ErrPublishAtomicity = New("publish sequence broken after partial write")

	// ErrNotFound is the generic remote 404 sentinel used by the API clients.
	ErrNotFound = New("not found")
)

// Configurationf builds an ErrConfiguration with a formatted message.
func Configurationf(format string, args ...interface{}) error {
	return crdb.Wrap(ErrConfiguration, crdb.Newf(format, args...).Error())
}

// NotFoundf builds an ErrNotFound with a formatted message.
func NotFoundf(format string, args ...interface{}) error {
	return crdb.Wrap(ErrNotFound, crdb.Newf(format, args...).Error())
}
