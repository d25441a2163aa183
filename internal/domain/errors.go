package domain

import "errors"

// Error taxonomy shared by services and the HTTP layer. Details are wrapped
// with fmt.Errorf("%w: ...") and matched with errors.Is.
var (
	ErrValidation             = errors.New("validation error")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrAlreadyResolved        = errors.New("claim already resolved")
	ErrInferenceUndefined     = errors.New("inference undefined: evidence has zero likelihood")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrInferenceTimeout       = errors.New("inference timed out")

	ErrNotFound           = errors.New("not found")
	ErrClaimNotFound      = errors.New("claim not found")
	ErrClaimClosed        = errors.New("claim is closed")
	ErrClaimConflict      = errors.New("claim already exists")
	ErrEvidenceIncomplete = errors.New("evidence incomplete")
	ErrBeliefNotFound     = errors.New("belief not found")
	ErrChainBroken        = errors.New("event hash chain is broken")
)
