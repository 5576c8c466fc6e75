package idgen

import "github.com/google/uuid"

// NewFunc produces task identifiers. Tests replace it with a deterministic
// counter.
var NewFunc = func() string { return uuid.New().String() }

// New returns a fresh unique identifier.
func New() string { return NewFunc() }
