// Package zreader implements a transparent decompressing reader.
//
// Repository metadata files are published as plain, gzip, or xz streams and
// the repomd index is not required to say which.
package zreader

import (
	"bufio"
	"bytes"
	"errors"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/ulikunitz/xz"
)

type kind int

const (
	kindNone kind = iota
	kindGzip
	kindXz
)

var magic = map[kind][]byte{
	kindGzip: {0x1F, 0x8B},
	kindXz:   {0xFD, 0x37, 0x7A, 0x58, 0x5A, 0x00},
}

func detect(b []byte) kind {
	for k, h := range magic {
		if len(b) < len(h) {
			continue
		}
		if bytes.Equal(h, b[:len(h)]) {
			return k
		}
	}
	return kindNone
}

// Reader wraps "r" in a decompressor chosen by sniffing the stream's first
// bytes. The returned Close does not close "r".
func Reader(r io.Reader) (io.ReadCloser, error) {
	br := bufio.NewReader(r)
	b, err := br.Peek(6)
	switch {
	case err == nil:
	case errors.Is(err, io.EOF):
		// Short input still gets handed to detect; empty input reads as
		// plain.
	default:
		return nil, err
	}
	switch detect(b) {
	case kindGzip:
		z, err := gzip.NewReader(br)
		if err != nil {
			return nil, err
		}
		return z, nil
	case kindXz:
		x, err := xz.NewReader(br)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(x), nil
	}
	return io.NopCloser(br), nil
}
