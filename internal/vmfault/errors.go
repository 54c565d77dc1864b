package vmfault

import "errors"

// ErrShortRead marks a file-backed fault whose reopened file returned
// fewer bytes than the SPT entry's read_bytes promised.
var ErrShortRead = errors.New("vmfault: short read from file-backed page")
