// Package services implements the persistence layer as explicit repository
// functions over pgx. No ORM object graphs: every function states its reads
// and writes, and cross-entity consistency is enforced by SQL constraints
// plus the job state machine.
package services

import "errors"

var (
	ErrNotFound          = errors.New("record not found")
	ErrJobAlreadyActive  = errors.New("an active job of this kind already exists for the protocol")
	ErrIllegalTransition = errors.New("illegal job status transition")
)
