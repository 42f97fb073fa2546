package build

import (
	"github.com/btcsuite/btclog"
)

// NewSubLogger constructs a new subsystem logger from the provided
// constructor. If no constructor is provided, logging for the subsystem is
// disabled until the owning package is handed a real logger via its UseLogger
// function.
func NewSubLogger(subsystem string,
	genSubLogger func(string) btclog.Logger) btclog.Logger {

	if genSubLogger != nil {
		return genSubLogger(subsystem)
	}

	return btclog.Disabled
}
