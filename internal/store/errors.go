package store

import "errors"

var (
	// ErrSnapshotNotFound indicates no manual snapshot exists for the device.
	ErrSnapshotNotFound = errors.New("store: snapshot not found")

	// ErrTemplateNotLearned indicates no payload template has been captured
	// yet for the requested command type.
	ErrTemplateNotLearned = errors.New("store: payload template not learned")

	// ErrTimestampsNotFound indicates no persisted timestamps exist for the
	// device, typically on first run.
	ErrTimestampsNotFound = errors.New("store: timestamps not found")
)
