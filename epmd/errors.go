package epmd

import "github.com/pkg/errors"

// ErrNotRegistered is returned by Lookup and Stop when epmd has no
// matching name.
var ErrNotRegistered = errors.New("epmd: no such name registered")
