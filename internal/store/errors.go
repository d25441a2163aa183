package store

import "errors"

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
	// ErrRevisionConflict means a CPT write expected a revision that is no
	// longer the latest.
	ErrRevisionConflict = errors.New("revision conflict")
	// ErrStateConflict means the claim was not in the state a write requires.
	ErrStateConflict = errors.New("state conflict")
)
