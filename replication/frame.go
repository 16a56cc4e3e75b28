// Package replication maintains the durable per-namespace replication
// log on primaries and replays shipped frames on replicas. Committed
// WAL frames are captured at the frame-insertion point, appended to the
// log in commit order, and streamed to followers until the log's
// closed signal fires.
package replication

import (
	"github.com/klauspost/compress/s2"
	"github.com/pkg/errors"
)

// FrameHeader addresses one page-change record in the replication log.
// FrameNo is a log-global, strictly increasing sequence number starting
// at 1. SizeAfter is non-zero only on the last frame of a committed
// transaction and carries the database size in pages after that commit.
type FrameHeader struct {
	FrameNo   uint64 `msgpack:"frame_no"`
	Pgno      uint32 `msgpack:"pgno"`
	SizeAfter uint32 `msgpack:"size_after"`
}

// Frame is one page-change record. Page holds the s2-compressed page
// payload; it is kept compressed end to end and only decompressed at
// the point of application.
type Frame struct {
	Header FrameHeader `msgpack:"header"`
	Page   []byte      `msgpack:"page"`
}

// IsCommit reports whether this frame closes a transaction.
func (f *Frame) IsCommit() bool { return f.Header.SizeAfter != 0 }

// CompressPage encodes a raw page payload for storage and shipping.
func CompressPage(data []byte) []byte {
	return s2.Encode(nil, data)
}

// DecompressPage decodes a frame payload back into a raw page.
func DecompressPage(page []byte, pageSize int) ([]byte, error) {
	data, err := s2.Decode(make([]byte, 0, pageSize), page)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decompress frame payload")
	}
	if len(data) != pageSize {
		return nil, errors.Errorf("frame payload is %d bytes, want %d", len(data), pageSize)
	}
	return data, nil
}

// FrameBatch is a contiguous run of frames ending in a commit frame.
// Batches are the unit of shipment to replicas: a replica applies a
// whole batch or none of it.
type FrameBatch struct {
	Frames []Frame `msgpack:"frames"`
}

// StartFrameNo returns the frame number of the first frame, or zero for
// an empty batch.
func (b *FrameBatch) StartFrameNo() uint64 {
	if len(b.Frames) == 0 {
		return 0
	}
	return b.Frames[0].Header.FrameNo
}

// EndFrameNo returns the frame number of the last frame, or zero for an
// empty batch.
func (b *FrameBatch) EndFrameNo() uint64 {
	if len(b.Frames) == 0 {
		return 0
	}
	return b.Frames[len(b.Frames)-1].Header.FrameNo
}
