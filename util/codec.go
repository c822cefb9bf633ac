package util

import (
	"github.com/jobala/kerno/storage/disk"
	"github.com/vmihailenco/msgpack"
)

// ToByteSlice encodes obj into a payload of exactly one disk block.
func ToByteSlice[T any](obj T) ([]byte, error) {
	res := make([]byte, disk.BlockSize)

	data, err := msgpack.Marshal(obj)
	if err != nil {
		return nil, err
	}
	copy(res, data)

	return res, nil
}

// ToStruct decodes a block payload produced by ToByteSlice.
func ToStruct[T any](data []byte) (T, error) {
	var res T

	if err := msgpack.Unmarshal(data, &res); err != nil {
		return res, err
	}

	return res, nil
}
