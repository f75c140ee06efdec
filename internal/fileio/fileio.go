// Package fileio opens and creates files, transparently compressing paths
// ending in ".zst" with zstd.
package fileio

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
)

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

type zstdFile struct {
	enc *zstd.Encoder
	f   *os.File
}

func (z *zstdFile) Write(p []byte) (int, error) { return z.enc.Write(p) }

func (z *zstdFile) Close() error {
	if err := z.enc.Close(); err != nil {
		_ = z.f.Close()
		return fmt.Errorf("flushing zstd stream: %w", err)
	}
	return z.f.Close()
}

// Create opens path for writing. "-" or "" writes to stdout, and a ".zst"
// suffix compresses the output with zstd.
func Create(path string) (io.WriteCloser, error) {
	if path == "" || path == "-" {
		return nopCloser{os.Stdout}, nil
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", path, err)
	}
	if !strings.HasSuffix(path, ".zst") {
		return f, nil
	}

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	return &zstdFile{enc: enc, f: f}, nil
}

// Open opens path for reading, transparently decompressing ".zst" files.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(path, ".zst") {
		return f, nil
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	return &zstdReader{dec: dec, f: f}, nil
}

type zstdReader struct {
	dec *zstd.Decoder
	f   *os.File
}

func (z *zstdReader) Read(p []byte) (int, error) { return z.dec.Read(p) }

func (z *zstdReader) Close() error {
	z.dec.Close()
	return z.f.Close()
}
