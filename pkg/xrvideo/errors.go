package xrvideo

import (
	"errors"
)

var (
	ErrNotInitialized             = errors.New("the video is not initialized")
	ErrClosed                     = errors.New("the video is closed")
	ErrNotReady                   = errors.New("the video is not loaded yet")
	ErrInvalidPlaybackMode        = errors.New("invalid playback mode")
	ErrContractViolation          = errors.New("caller contract violation")
	ErrNilRenderLock              = errors.New("the render lock is nil")
	ErrForeignRenderLock          = errors.New("the render lock belongs to another video")
	ErrStaleRenderLock            = errors.New("the render lock belongs to a superseded video")
	ErrRenderLockAlreadyDestroyed = errors.New("the render lock is already destroyed")
	ErrRenderLocksOutstanding     = errors.New("render locks are still outstanding")
)
