package bridge

import "errors"

// Sentinel errors returned by the orchestrator. Callers branch on these with
// errors.Is; the wrapped cause carries the detail.
var (
	// ErrPortUnavailable means no usable UDP port pair could be allocated
	// within the configured number of attempts.
	ErrPortUnavailable = errors.New("no rtp port pair available")

	// ErrBridgeSetup means the engine-side plain transport, consumer, or
	// connect step failed. Everything created before the failure is closed.
	ErrBridgeSetup = errors.New("bridge setup failed")

	// ErrTranscodeSpawn means the transcoder process could not be started.
	ErrTranscodeSpawn = errors.New("transcoder spawn failed")

	// ErrNotFound means no live session exists for the producer.
	ErrNotFound = errors.New("stream not found")

	// ErrAlreadyStarted means a session for the producer is live or being set
	// up; at most one bridge exists per producer.
	ErrAlreadyStarted = errors.New("stream already started")
)
