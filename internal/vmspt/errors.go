package vmspt

import "errors"

var (
	// ErrDuplicateEntry marks a zero/filesys install for a upage that
	// already has an SPT entry: a programming error per spec §4.3.
	ErrDuplicateEntry = errors.New("vmspt: duplicate entry for upage")

	// ErrEntryNotFound marks a SetDirty or EvictNotify against a upage
	// with no SPT entry. Queries report a missing entry as false instead.
	ErrEntryNotFound = errors.New("vmspt: no entry for upage")
)
