// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package compress implements the column payload encoding used for fields
// declared with the "compress" option.
//
// An encoded payload is a four byte marker followed by the little endian
// uncompressed size and an LZ4 block. Payloads that do not compress are
// stored after a distinct marker so that any input round trips, including
// input that happens to start with a marker.
//
// Columns that only hold valid text use EncodeText, whose payloads are the
// base64 form of an encoded payload after a printable marker.
package compress

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/pierrec/lz4/v4"
)

const (
	markerLZ4    = "LZ4\x00"
	markerStored = "LZ4\x01"
	markerText   = "LZ4:"
	markerLen    = 4
	sizeLen      = 4
)

// DefaultThreshold is the payload size below which values are stored
// uncompressed and unmarked.
const DefaultThreshold = 256

// MaxSize bounds the uncompressed size accepted by Decode.
const MaxSize = 64 << 20

// ErrCorrupt is returned by Decode for malformed payloads.
var ErrCorrupt = errors.New("corrupt compressed payload")

// Encode returns the stored form of src. Inputs shorter than threshold are
// returned unchanged unless they already look like an encoded payload.
func Encode(src []byte, threshold int) []byte {
	if len(src) < threshold && !IsEncoded(src) {
		return src
	}
	dst := make([]byte, markerLen+sizeLen+lz4.CompressBlockBound(len(src)))
	n, err := lz4.CompressBlock(src, dst[markerLen+sizeLen:], nil)
	if err != nil || n == 0 || n >= len(src) {
		out := make([]byte, 0, markerLen+len(src))
		out = append(out, markerStored...)
		return append(out, src...)
	}
	copy(dst, markerLZ4)
	binary.LittleEndian.PutUint32(dst[markerLen:], uint32(len(src)))
	return dst[:markerLen+sizeLen+n]
}

// EncodeText returns the text-safe stored form of src. Inputs that do not
// shrink are returned unchanged unless they already look like an encoded
// payload.
func EncodeText(src string, threshold int) string {
	if len(src) < threshold && !IsEncoded([]byte(src)) {
		return src
	}
	bin := Encode([]byte(src), 0)
	out := markerText + base64.RawStdEncoding.EncodeToString(bin)
	if len(out) >= len(src) && !IsEncoded([]byte(src)) {
		return src
	}
	return out
}

// Decode returns the original form of a payload produced by Encode or
// EncodeText. Input without a marker is returned unchanged.
func Decode(src []byte) ([]byte, error) {
	switch {
	case bytes.HasPrefix(src, []byte(markerText)):
		bin, err := base64.RawStdEncoding.DecodeString(string(src[markerLen:]))
		if err != nil || bytes.HasPrefix(bin, []byte(markerText)) || !IsEncoded(bin) {
			return nil, ErrCorrupt
		}
		return Decode(bin)
	case bytes.HasPrefix(src, []byte(markerStored)):
		return src[markerLen:], nil
	case !bytes.HasPrefix(src, []byte(markerLZ4)):
		return src, nil
	}
	if len(src) < markerLen+sizeLen {
		return nil, ErrCorrupt
	}
	size := binary.LittleEndian.Uint32(src[markerLen:])
	if size > MaxSize {
		return nil, fmt.Errorf("%w: size %d exceeds limit", ErrCorrupt, size)
	}
	dst := make([]byte, size)
	n, err := lz4.UncompressBlock(src[markerLen+sizeLen:], dst)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if n != int(size) {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrCorrupt, size, n)
	}
	return dst, nil
}

// IsEncoded reports whether src starts with a payload marker.
func IsEncoded(src []byte) bool {
	return bytes.HasPrefix(src, []byte(markerLZ4)) ||
		bytes.HasPrefix(src, []byte(markerStored)) ||
		bytes.HasPrefix(src, []byte(markerText))
}
