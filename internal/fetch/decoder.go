package fetch

import (
	"context"
	"log"
)

// Rand is the source of randomness the decoder uses for probabilistic
// healing. Injected so tests can make heal decisions deterministic
// instead of reaching for math/rand directly.
type Rand interface {
	// Intn returns a pseudo-random number in [0, n).
	Intn(n int) int
}

// healProbabilityDenominator makes a never-retried block a heal
// candidate on a 1-in-5 draw, matching the "unlucky" probabilistic
// branch of the retryCount-gated heal rule: a block that was retried
// at least once before the segment moved on is healed unconditionally,
// one that never got a single retry attempt only sometimes is, so a
// mass-cancel at quorum doesn't turn every leftover child into a
// reinsertion storm.
const healProbabilityDenominator = 5

// runDecoder is the decoder driver: it runs outside the segment's
// mutex once quorum triggers startDecode. It resolves a codec,
// reconstructs missing data blocks, concatenates the K data blocks in
// order into one blob, and publishes the result. Only then, as part of
// the best-effort heal pass, does it re-encode any still-missing check
// blocks from the now-complete data set and heal every block whose
// fetch did not succeed — a decode that already produced a valid blob
// must never be turned into a segment failure by a heal-stage error.
func runDecoder(s *Segment) {
	s.mu.Lock()
	splitType := s.splitType
	k, m := s.k, s.m
	data := append([]Bucket(nil), s.dataBlocks...)
	check := append([]Bucket(nil), s.checkBlocks...)
	dataKeys := s.dataKeys
	checkKeys := s.checkKeys
	buckets := s.buckets
	heal := s.heal
	rnd := s.rand
	dataState := append([]blockState(nil), s.dataState...)
	checkState := append([]blockState(nil), s.checkState...)
	s.mu.Unlock()

	if buckets == nil {
		buckets = MemoryBucketFactory{}
	}

	codec, err := GetCodec(splitType, k, m)
	if err != nil {
		s.fail(&SegmentError{Code: ErrBucketError, Message: err.Error()})
		return
	}

	if err := codec.Decode(data, check, buckets); err != nil {
		s.fail(&SegmentError{Code: ErrBucketError, Message: err.Error()})
		return
	}

	blob, err := concatDataBlocks(data, buckets)
	if err != nil {
		s.fail(&SegmentError{Code: ErrBucketError, Message: err.Error()})
		return
	}

	s.finishWithBlob(blob)

	if heal != nil {
		// Re-encoding missing check blocks is part of the heal pass,
		// not the decode itself: the segment has already published a
		// successful result above, so an I/O error here is logged and
		// swallowed rather than turned into a segment failure.
		if err := codec.Encode(data, check, buckets); err != nil {
			log.Printf("[fetch] decoder: heal-stage check re-encode failed, healing what's already present: %v", err)
		}
		runHealPass(context.Background(), dataKeys, checkKeys, data, check, dataState, checkState, heal, rnd)
	}
}

// concatDataBlocks assembles the final blob by copying the K data
// blocks, in order, into one bucket. Any block still nil after decode
// means the codec silently failed to reconstruct it, which is treated
// as a bucket/storage error rather than allowed to panic on a nil
// dereference.
func concatDataBlocks(data []Bucket, buckets BucketFactory) (Bucket, error) {
	var total int64
	for _, b := range data {
		if b == nil {
			return nil, errMissingReconstructedBlock
		}
		total += b.Size()
	}

	out, err := buckets.MakeBucket(total)
	if err != nil {
		return nil, err
	}
	w, err := out.Writer()
	if err != nil {
		return nil, err
	}
	for _, b := range data {
		if _, err := b.CopyTo(w, -1); err != nil {
			w.Close()
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return out, nil
}

var errMissingReconstructedBlock = &SegmentError{Code: ErrBucketError, Message: "data block missing after decode"}

// runHealPass considers every data and check block for reinsertion. A
// block that succeeded on its own is never a heal candidate. Every
// other block — one that failed outright and was reconstructed, or one
// that never got a terminal callback before the mass-cancel at decode
// handoff — is healed unconditionally if it was retried at least once,
// or on a 1-in-5 draw if it never got a single retry, so a clean fetch
// doesn't reinsert everything it read while a block that struggled
// still gets reinserted with high probability.
func runHealPass(ctx context.Context, dataKeys, checkKeys []Key, data, check []Bucket, dataState, checkState []blockState, heal HealService, rnd Rand) {
	healed := healArray(ctx, dataKeys, data, dataState, heal, rnd)
	healed += healArray(ctx, checkKeys, check, checkState, heal, rnd)
	log.Printf("[fetch] decoder: heal pass complete, %d block(s) queued for reinsertion", healed)
}

func healArray(ctx context.Context, keys []Key, blocks []Bucket, state []blockState, heal HealService, rnd Rand) int {
	queued := 0
	for i, st := range state {
		if st.succeeded {
			continue
		}
		b := blocks[i]
		if b == nil {
			continue
		}
		if st.retryCount >= 1 {
			heal.QueueHeal(ctx, keys[i], b)
			queued++
			continue
		}
		if rnd != nil && rnd.Intn(healProbabilityDenominator) == 0 {
			heal.QueueHeal(ctx, keys[i], b)
			queued++
		}
	}
	return queued
}
