package blob

import "github.com/m-mizutani/goerr/v2"

// ErrBlobNotFound is returned when the requested object does not exist
var ErrBlobNotFound = goerr.New("blob not found")
