// Package rpc carries the two cross-node surfaces over gRPC: the write
// proxy replicas forward their writes through, and the replication
// stream replicas follow committed frames on. Messages travel as
// msgpack; the codec is registered by content subtype so both ends
// agree without generated stubs.
package rpc

import (
	"github.com/vmihailenco/msgpack/v5"
	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content subtype both services use.
const CodecName = "msgpack"

type msgpackCodec struct{}

func (msgpackCodec) Marshal(v interface{}) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (msgpackCodec) Unmarshal(data []byte, v interface{}) error {
	return msgpack.Unmarshal(data, v)
}

func (msgpackCodec) Name() string { return CodecName }

func init() {
	encoding.RegisterCodec(msgpackCodec{})
}
