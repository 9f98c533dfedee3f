package fetch

import "context"

// Key identifies a single content-addressed block to fetch. It is
// intentionally opaque here — metadata parsing and content URI parsing
// are external collaborators outside this component — except for the one
// property the segment must check itself: whether the key names an
// updatable-subspace (USK) location, which is not permitted inside a
// splitfile.
type Key interface {
	// IsUpdatableSubspace reports whether this key is a USK. A
	// splitfile containing one fails in Segment.Schedule with
	// ErrInvalidMetadata.
	IsUpdatableSubspace() bool

	// VariableLength reports whether the underlying split uses
	// variable-length blocks. Segment does not call it: the child
	// recursion depth comes from NewSegment's variableLength argument.
	VariableLength() bool
}

// BlockFetchResult is what a successful BlockFetcher delivers.
type BlockFetchResult struct {
	Data Bucket
}

// Token identifies which slot in the segment's block arrays a child
// fetcher's callback belongs to, using an arena+index handle: children are owned handles referenced by integer index rather
// than by closure capture, so a cancellation race lands on a slot
// check instead of a dangling pointer.
type Token struct {
	Index     int
	IsData    bool
	Recursion int
}

// BlockFetcher is the child fetch unit describes as a "consumed" child: create, schedule, cancel, and report retry count and
// token back out. A production implementation resolves a Key against
// the block-store retrieval transport (out of scope here); tests use a
// deterministic simulated fetcher (see blockfetcher_sim_test.go).
type BlockFetcher interface {
	Schedule(ctx context.Context)
	Cancel()
	RetryCount() int
	Token() Token
}

// ParentFetcher receives the terminal notification from a Segment.
// Must be safe to call SegmentFinished exactly once per segment
// .
type ParentFetcher interface {
	SegmentFinished(seg *Segment)
}

// HealService is the fire-and-forget re-insertion sink the decoder
// hands healed blocks to. Its actual network behavior — talking to the
// content-addressed insertion path — is out of scope; this interface is the integration point.
type HealService interface {
	QueueHeal(ctx context.Context, key Key, data Bucket)
}
