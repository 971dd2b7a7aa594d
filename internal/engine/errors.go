package engine

import "errors"

var (
	// ErrSessionActive is returned when a user tries to start a second
	// session while one is still running.
	ErrSessionActive = errors.New("user already has an active session")

	// ErrNoActiveSession is returned for stop/status calls when the user
	// has no running session.
	ErrNoActiveSession = errors.New("no active session for user")

	// ErrEngineClosed is returned once shutdown has begun.
	ErrEngineClosed = errors.New("engine is shutting down")
)

// Stop reasons recorded on the session when it ends.
const (
	StopUserRequest  = "USER_REQUEST"
	StopDailyLoss    = "DAILY_LOSS_LIMIT"
	StopDuration     = "SESSION_DURATION"
	StopMaxPositions = "MAX_POSITIONS_EXCEEDED"
)
