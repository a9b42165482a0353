package denoise

import (
	"errors"
)

var (
	ErrEngineNotInitialized = errors.New("noise suppression engine is not initialized")
	ErrClosed               = errors.New("the processor is closed")
)
