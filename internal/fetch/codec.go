package fetch

import (
	"bytes"
	"fmt"

	"github.com/klauspost/reedsolomon"
)

// SplitType names the redundancy scheme a splitfile's metadata
// declares. Any other value is a metadata parse error at segment
// construction,.
type SplitType int

const (
	// SplitNonredundant has M=0; decode is a no-op straight
	// concatenation.
	SplitNonredundant SplitType = iota
	// SplitOnionStandard requires FEC decode/encode to recover from
	// missing blocks.
	SplitOnionStandard
)

func (t SplitType) String() string {
	switch t {
	case SplitNonredundant:
		return "NONREDUNDANT"
	case SplitOnionStandard:
		return "ONION_STANDARD"
	default:
		return "UNKNOWN"
	}
}

// blockSize is the fixed FEC block size mandates.
const blockSize = 32768

// Codec is the erasure-coding engine an
// external collaborator. decode fills any missing data buckets; encode
// fills any missing check buckets. Both may fail with a storage I/O
// error (reading/writing through the supplied buckets).
type Codec interface {
	Decode(data []Bucket, check []Bucket, factory BucketFactory) error
	Encode(data []Bucket, check []Bucket, factory BucketFactory) error
}

// GetCodec resolves the codec for a given split type and shard counts.
// Grounded on _examples/niuniu0101-hyperledger/erasurecode/main.go's
// use of github.com/klauspost/reedsolomon for exactly this
// split-into-K-plus-M-shards-any-K-reconstructs scheme.
func GetCodec(splitType SplitType, k, m int) (Codec, error) {
	switch splitType {
	case SplitNonredundant:
		return nonredundantCodec{}, nil
	case SplitOnionStandard:
		enc, err := reedsolomon.New(k, m)
		if err != nil {
			return nil, fmt.Errorf("fetch: reedsolomon.New(%d,%d): %w", k, m, err)
		}
		return &reedSolomonCodec{enc: enc, k: k, m: m}, nil
	default:
		return nil, fmt.Errorf("fetch: unsupported split type %v", splitType)
	}
}

// nonredundantCodec backs SplitNonredundant: there is nothing to
// reconstruct, since M=0 means every data block must already be
// present for the segment to have reached quorum.
type nonredundantCodec struct{}

func (nonredundantCodec) Decode(data []Bucket, check []Bucket, factory BucketFactory) error {
	return nil
}

func (nonredundantCodec) Encode(data []Bucket, check []Bucket, factory BucketFactory) error {
	return nil
}

// reedSolomonCodec adapts github.com/klauspost/reedsolomon's
// Reconstruct primitive to two separate operations, decode (fill data) and
// encode (fill check) operations: both are the same underlying
// reconstruction, just aimed at a different half of the shard array.
type reedSolomonCodec struct {
	enc reedsolomon.Encoder
	k   int
	m   int
}

func (c *reedSolomonCodec) Decode(data []Bucket, check []Bucket, factory BucketFactory) error {
	shards, err := readShards(data, check, c.k, c.m)
	if err != nil {
		return err
	}
	if err := c.enc.Reconstruct(shards); err != nil {
		return fmt.Errorf("fetch: reed-solomon reconstruct: %w", err)
	}
	return writeShards(shards[:c.k], data, factory)
}

func (c *reedSolomonCodec) Encode(data []Bucket, check []Bucket, factory BucketFactory) error {
	shards, err := readShards(data, check, c.k, c.m)
	if err != nil {
		return err
	}
	if err := c.enc.Reconstruct(shards); err != nil {
		return fmt.Errorf("fetch: reed-solomon reconstruct: %w", err)
	}
	return writeShards(shards[c.k:], check, factory)
}

// readShards assembles a k+m shard array from the given buckets,
// leaving nil where a bucket is absent, and padding/truncating present
// shards to the fixed block size reedsolomon requires equal-length
// shards for.
func readShards(data, check []Bucket, k, m int) ([][]byte, error) {
	shards := make([][]byte, k+m)
	fill := func(buckets []Bucket, offset int) error {
		for i, b := range buckets {
			if b == nil {
				continue
			}
			var buf bytes.Buffer
			if _, err := b.CopyTo(&buf, -1); err != nil {
				return fmt.Errorf("fetch: reading shard %d: %w", offset+i, err)
			}
			shard := make([]byte, blockSize)
			copy(shard, buf.Bytes())
			shards[offset+i] = shard
		}
		return nil
	}
	if err := fill(data, 0); err != nil {
		return nil, err
	}
	if err := fill(check, k); err != nil {
		return nil, err
	}
	return shards, nil
}

// writeShards persists reconstructed shards into fresh buckets
// wherever the corresponding output slot is currently nil.
func writeShards(shards [][]byte, out []Bucket, factory BucketFactory) error {
	for i, existing := range out {
		if existing != nil {
			continue
		}
		b, err := factory.MakeBucket(int64(len(shards[i])))
		if err != nil {
			return fmt.Errorf("fetch: allocating reconstructed bucket %d: %w", i, err)
		}
		w, err := b.Writer()
		if err != nil {
			return fmt.Errorf("fetch: opening reconstructed bucket %d: %w", i, err)
		}
		if _, err := w.Write(shards[i]); err != nil {
			return fmt.Errorf("fetch: writing reconstructed bucket %d: %w", i, err)
		}
		if err := w.Close(); err != nil {
			return fmt.Errorf("fetch: closing reconstructed bucket %d: %w", i, err)
		}
		out[i] = b
	}
	return nil
}
