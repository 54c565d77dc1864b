package vmframe

import "errors"

var (
	// ErrAllocFailed is returned when no frame can be handed out even
	// after an eviction: the physical allocator is still exhausted, or the
	// table has no free slot for the frame it got.
	ErrAllocFailed = errors.New("vmframe: frame allocation failed")

	// ErrOutOfMemory marks a clock scan that exceeded its bound without
	// finding a victim: every frame is pinned, or thrashing.
	ErrOutOfMemory = errors.New("vmframe: no evictable frame (all frames pinned or thrashing)")

	// ErrUnknownFrame marks pin/unpin/free/remove_entry of a kpage the
	// table has no entry for. Always a bookkeeping bug in the caller.
	ErrUnknownFrame = errors.New("vmframe: unknown frame")
)
