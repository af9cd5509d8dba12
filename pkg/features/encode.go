// Package features turns a node's semantic attributes into its canonical word
// buffer and reduces word buffers to 64-bit colors.
//
// The buffer layout is fixed:
//
//	[type, len(concepts), len(relations), concepts..., (rank, out, in)...]
//
// Changing it changes every color the engine produces.
package features

import (
	"encoding/binary"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/conductorone/wlanon/pkg/graph"
)

// Color is an opaque 64-bit class label. Only equality is meaningful.
type Color uint64

// Encode returns f's canonical buffer.
func Encode(f graph.Features) []uint64 {
	return AppendEncode(make([]uint64, 0, 3+len(f.Concepts)+3*len(f.Relations)), f)
}

// AppendEncode appends f's canonical buffer to dst.
func AppendEncode(dst []uint64, f graph.Features) []uint64 {
	dst = append(dst,
		uint64(f.Type),
		uint64(len(f.Concepts)),
		uint64(len(f.Relations)),
	)
	for _, c := range f.Concepts {
		dst = append(dst, uint64(c)) //nolint:gosec // validated non-negative
	}
	for _, r := range f.Relations {
		dst = append(dst, uint64(r.Rank), uint64(r.Out), uint64(r.In)) //nolint:gosec // validated non-negative
	}
	return dst
}

var bytePool sync.Pool // *[]byte

// ColorOf hashes the little-endian bytes of buf with xxhash64.
func ColorOf(buf []uint64) Color {
	n := len(buf) * 8
	p, _ := bytePool.Get().(*[]byte)
	if p == nil || cap(*p) < n {
		b := make([]byte, n)
		p = &b
	}
	b := (*p)[:n]
	for i, w := range buf {
		binary.LittleEndian.PutUint64(b[i*8:], w)
	}
	c := Color(xxhash.Sum64(b))
	*p = b
	bytePool.Put(p)
	return c
}

// ColorOfFeatures is ColorOf(Encode(f)).
func ColorOfFeatures(f graph.Features) Color {
	return ColorOf(Encode(f))
}
