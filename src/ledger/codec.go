package ledger

import (
	"github.com/ugorji/go/codec"
)

// Every ledger object and wire payload is encoded as canonical msgpack with
// structs flattened to arrays. Field order is therefore part of the format:
// append new fields, never reorder.
var msgpackHandle = newMsgpackHandle()

func newMsgpackHandle() *codec.MsgpackHandle {
	mh := new(codec.MsgpackHandle)
	mh.Canonical = true
	mh.StructToArray = true
	mh.WriteExt = true
	mh.MaxInitLen = 4096
	return mh
}

// Encode serializes v with the ledger codec.
func Encode(v interface{}) ([]byte, error) {
	var out []byte
	enc := codec.NewEncoderBytes(&out, msgpackHandle)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return out, nil
}

// Decode deserializes data produced by Encode into v.
func Decode(data []byte, v interface{}) error {
	dec := codec.NewDecoderBytes(data, msgpackHandle)
	return dec.Decode(v)
}
