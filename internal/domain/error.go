package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrCalculation        = errors.New("calculation failed")
	ErrInfrastructure     = errors.New("infrastructure failure")
	ErrJobNotReady        = errors.New("job has not completed yet")
	ErrJobTerminal        = errors.New("job is already in a terminal state")
	ErrJobRunning         = errors.New("job is still running")
	ErrRateLimited        = errors.New("too many requests")
	ErrInvalidExecContext = errors.New("invalid SQL execution context")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
)
