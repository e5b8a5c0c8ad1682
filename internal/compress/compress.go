// Package compress wraps the payload codecs used for persisted snapshots.
package compress

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

type Algorithm string

const (
	None Algorithm = "none"
	Gzip Algorithm = "gzip"
	LZ4  Algorithm = "lz4"
	Zstd Algorithm = "zstd"
)

// Algorithms lists every supported algorithm.
func Algorithms() []Algorithm {
	return []Algorithm{None, Gzip, LZ4, Zstd}
}

// ParseAlgorithm accepts an algorithm name. "lzf" is accepted as an alias
// for lz4 and an empty string means none.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return None, nil
	case "gzip", "gz":
		return Gzip, nil
	case "lz4", "lzf":
		return LZ4, nil
	case "zstd":
		return Zstd, nil
	default:
		return "", fmt.Errorf("compress: unsupported algorithm %q", s)
	}
}

// Compress encodes data with alg.
func Compress(alg Algorithm, data []byte) ([]byte, error) {
	switch alg {
	case None, "":
		return data, nil
	case Zstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, err
		}
		defer enc.Close()
		return enc.EncodeAll(data, nil), nil
	}

	var buf bytes.Buffer
	var w io.WriteCloser
	switch alg {
	case Gzip:
		w = gzip.NewWriter(&buf)
	case LZ4:
		w = lz4.NewWriter(&buf)
	default:
		return nil, fmt.Errorf("compress: unsupported algorithm %q", alg)
	}

	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("compress %s: %w", alg, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compress %s: %w", alg, err)
	}
	return buf.Bytes(), nil
}

// Decompress reverses Compress.
func Decompress(alg Algorithm, data []byte) ([]byte, error) {
	switch alg {
	case None, "":
		return data, nil
	case Gzip:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decompress gzip: %w", err)
		}
		defer r.Close()
		return io.ReadAll(r)
	case LZ4:
		return io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
	case Zstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		out, err := dec.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("decompress zstd: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("compress: unsupported algorithm %q", alg)
	}
}
