package set

import (
	"math/bits"

	"tlog.app/go/tlog/tlwire"
)

type (
	Bitmap struct {
		b  []uint64
		b0 [1]uint64
	}
)

func MakeBitmap(Len int) Bitmap {
	s := Bitmap{}
	s.b = s.b0[:]

	Len = (Len + 63) / 64

	if Len > len(s.b) {
		s.b = make([]uint64, Len)
	}

	return s
}

func (s *Bitmap) Set(i int) {
	i, j := s.ij(i)

	s.grow(i)

	s.b[i] |= 1 << j
}

func (s *Bitmap) Clear(i int) {
	i, j := s.ij(i)

	if i >= len(s.b) {
		return
	}

	s.b[i] &^= 1 << j
}

func (s *Bitmap) IsSet(i int) bool {
	i, j := s.ij(i)

	if i >= len(s.b) {
		return false
	}

	return (s.b[i] & (1 << j)) != 0
}

func (s *Bitmap) Reset() {
	for i := range s.b {
		s.b[i] = 0
	}
}

func (s *Bitmap) Size() (r int) {
	if s == nil {
		return 0
	}

	for _, c := range s.b {
		r += bits.OnesCount64(c)
	}

	return r
}

func (s *Bitmap) ij(i int) (int, int) {
	return i / 64, i % 64
}

func (s *Bitmap) grow(i int) {
	for i >= len(s.b) {
		s.b = append(s.b, 0)
	}
}

func (s Bitmap) TlogAppend(b []byte) []byte {
	var e tlwire.LowEncoder

	if s.b == nil {
		return e.AppendNil(b)
	}

	b = e.AppendTag(b, tlwire.Array, -1)

	for i, x := range s.b {
		for j := 0; j < 64; j++ {
			if (x & (1 << j)) == 0 {
				continue
			}

			b = e.AppendInt(b, i*64+j)
		}
	}

	b = e.AppendBreak(b)

	return b
}
