package models

import "errors"

// ErrTerminalStatus is returned when a status change is attempted on an
// execution or step execution that already reached a terminal status.
var ErrTerminalStatus = errors.New("status is terminal")
