// Copyright 2025 Umbra Observatory Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package journal

import (
	"bytes"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
)

var (
	// Global encoder/decoder pools.
	encoderPool = sync.Pool{
		New: func() interface{} {
			encoder, _ := zstd.NewWriter(nil,
				zstd.WithEncoderLevel(zstd.SpeedFastest)) // Optimize for speed

			return encoder
		},
	}

	decoderPool = sync.Pool{
		New: func() interface{} {
			decoder, _ := zstd.NewReader(nil)

			return decoder
		},
	}

	decompressBufferPool = sync.Pool{
		New: func() interface{} {
			return bytes.NewBuffer(make([]byte, 0, 32*1024)) // Pre-allocate 32KB
		},
	}
)

func getDecompressBuffer() *bytes.Buffer {
	if buf, ok := decompressBufferPool.Get().(*bytes.Buffer); ok {
		return buf
	}
	// If pool returns wrong type, create new buffer
	return bytes.NewBuffer(make([]byte, 0, 32*1024))
}

func putDecompressBuffer(buf *bytes.Buffer) {
	if cap(buf.Bytes()) <= 1024*1024 { // Only reuse buffers up to 1MB
		buf.Reset()
		decompressBufferPool.Put(buf)
	}
}

// compress zstd-compresses a marshalled segment.
func compress(payload []byte) ([]byte, error) {
	var encoder *zstd.Encoder
	if enc, ok := encoderPool.Get().(*zstd.Encoder); ok {
		encoder = enc
	} else {
		// If pool returns wrong type, create new encoder
		var err error

		encoder, err = zstd.NewWriter(nil)
		if err != nil {
			return nil, err
		}
	}
	defer encoderPool.Put(encoder)

	buffer := new(bytes.Buffer)
	buffer.Grow(len(payload)) // Pre-allocate with input size

	encoder.Reset(buffer)

	_, err := encoder.Write(payload)
	if err != nil {
		return nil, err
	}

	err = encoder.Close()
	if err != nil {
		return nil, err
	}

	// Return a copy of the bytes to avoid data races
	result := make([]byte, buffer.Len())
	copy(result, buffer.Bytes())

	return result, nil
}

// Decompress restores a segment payload. Uncompressed payloads pass through
// unchanged, so readers need not know how a segment was written.
func Decompress(payload []byte) ([]byte, error) {
	if !isCompressed(payload) {
		result := make([]byte, len(payload))
		copy(result, payload)

		return result, nil
	}

	var decoder *zstd.Decoder
	if dec, ok := decoderPool.Get().(*zstd.Decoder); ok {
		decoder = dec
	} else {
		// If pool returns wrong type, create new decoder
		var err error

		decoder, err = zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
	}
	defer decoderPool.Put(decoder)

	buffer := getDecompressBuffer()
	defer putDecompressBuffer(buffer)

	err := decoder.Reset(bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}

	_, err = io.Copy(buffer, decoder)
	if err != nil {
		return nil, err
	}

	// Return a copy of the bytes to avoid data races
	result := make([]byte, buffer.Len())
	copy(result, buffer.Bytes())

	return result, nil
}

// isCompressed checks for zstd magic bytes (0x28 0xB5 0x2F 0xFD).
func isCompressed(data []byte) bool {
	if len(data) < 4 {
		return false
	}
	// Use uint32 comparison instead of byte-by-byte
	magic := uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16 | uint32(data[3])<<24

	return magic == 0xFD2FB528
}
