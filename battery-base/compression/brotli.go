// Package compression wraps brotli for management transaction payloads.
package compression

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
)

var ErrTooLarge = errors.New("decompressed payload exceeds limit")

func BrotliCompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}

	buf := bytes.NewBuffer(nil)

	writer := brotli.NewWriterV2(buf, 9)

	_, err := writer.Write(data)
	if err != nil {
		return nil, fmt.Errorf("failed to write data to brotli compressor: %w", err)
	}
	err = writer.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to close brotli compressor: %w", err)
	}

	return buf.Bytes(), nil
}

func MustBrotliCompress(data []byte) []byte {
	compressed, err := BrotliCompress(data)
	if err != nil {
		panic(fmt.Errorf("failed to compress data: %w", err))
	}
	return compressed
}

// BrotliDecompress inflates data, refusing to produce more than limit bytes.
func BrotliDecompress(data []byte, limit int64) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}

	reader := brotli.NewReader(bytes.NewReader(data))
	d, err := io.ReadAll(io.LimitReader(reader, limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read brotli stream: %w", err)
	}

	if int64(len(d)) > limit {
		return nil, ErrTooLarge
	}

	return d, nil
}
