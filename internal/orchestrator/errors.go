package orchestrator

import "errors"

// Error kinds observable by callers of the public operations (§7).
var (
	ErrNotFound     = errors.New("orchestrator: process record not found")
	ErrInvalidState = errors.New("orchestrator: operation invalid for current process state")
	ErrDuplicateID  = errors.New("orchestrator: process record id already exists")
)
