package vmmmap

import "errors"

// ErrZeroPageMapped marks an ALL_ZEROS entry discovered during munmap
// write-back: mmap never installs zero pages, so this means the SPT and
// the mmap descriptor have diverged. Fatal per the design's bookkeeping-
// bug taxonomy.
var ErrZeroPageMapped = errors.New("vmmmap: all_zeros entry found inside mmap range")
