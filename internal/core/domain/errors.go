package domain

import "errors"

var (
	ErrUserNotFound   = errors.New("user not found")
	ErrCacheMiss      = errors.New("cache miss")
	ErrCommitConflict = errors.New("commit conflict")
	ErrNoActiveDevice = errors.New("no active playback device")
	ErrTrackNotFound  = errors.New("track not found")
	ErrQueueFull      = errors.New("pending queue full")
)
