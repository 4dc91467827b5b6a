package agent

import "errors"

var errMissingCommand = errors.New("agent command not configured")
