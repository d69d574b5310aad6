package jobs

import "errors"

// ErrJobNotFound is returned for an unknown or evicted job ID.
var ErrJobNotFound = errors.New("job not found")
