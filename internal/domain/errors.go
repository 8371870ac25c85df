package domain

import "errors"

// ErrConnectionLost is wrapped by store errors that mean the connection is
// gone. The pipeline stops processing records when it sees one.
var ErrConnectionLost = errors.New("store connection lost")
