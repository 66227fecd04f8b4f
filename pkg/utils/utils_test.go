package utils

import (
	"bytes"
	"testing"
)

func TestAlignTo(t *testing.T) {
	tests := []struct {
		val, align, want uint64
	}{
		{0, 8, 0},
		{1, 8, 8},
		{8, 8, 8},
		{9, 8, 16},
		{13, 1, 13},
		{13, 0, 13},
		{4095, 4096, 4096},
	}
	for _, tt := range tests {
		if got := AlignTo(tt.val, tt.align); got != tt.want {
			t.Errorf("AlignTo(%d, %d) = %d, want %d",
				tt.val, tt.align, got, tt.want)
		}
	}
}

func TestReadWrite(t *testing.T) {
	buf := make([]byte, 8)
	Write[uint32](buf, 0xdeadbeef)
	if got := Read[uint32](buf); got != 0xdeadbeef {
		t.Fatalf("got %#x, want 0xdeadbeef", got)
	}

	Write[uint64](buf, 0x0123456789abcdef)
	if buf[0] != 0xef || buf[7] != 0x01 {
		t.Fatalf("not little-endian: % x", buf)
	}
}

func TestBits(t *testing.T) {
	if got := Bits[uint32](0xdeadbeef, 15, 8); got != 0xbe {
		t.Fatalf("Bits = %#x, want 0xbe", got)
	}
	if got := Bit[uint32](0b100, 2); got != 1 {
		t.Fatalf("Bit = %d, want 1", got)
	}
}

func TestSignExtend(t *testing.T) {
	if got := SignExtend(0xfff, 11); got != 0xffffffffffffffff {
		t.Fatalf("SignExtend(0xfff, 11) = %#x, want -1", got)
	}
	if got := SignExtend(0x7ff, 11); got != 0x7ff {
		t.Fatalf("SignExtend(0x7ff, 11) = %#x, want 0x7ff", got)
	}
}

func TestRemoveIf(t *testing.T) {
	got := RemoveIf([]int{1, 2, 3, 4, 5}, func(v int) bool {
		return v%2 == 0
	})
	want := []int{1, 3, 5}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestUleb(t *testing.T) {
	// 624485 encodes as e5 8e 26.
	data := []byte{0xe5, 0x8e, 0x26}
	if got := ReadUleb(data); got != 624485 {
		t.Fatalf("ReadUleb = %d, want 624485", got)
	}

	if err := OverwriteUleb(data, 624485+7); err != nil {
		t.Fatal(err)
	}
	if got := ReadUleb(data); got != 624492 {
		t.Fatalf("after overwrite: %d, want 624492", got)
	}
	if data[0]&0x80 == 0 || data[1]&0x80 == 0 || data[2]&0x80 != 0 {
		t.Fatalf("continuation bits changed: % x", data)
	}
}

func TestOverwriteUlebTooWide(t *testing.T) {
	data := []byte{0x05, 0x00}
	orig := bytes.Clone(data)

	if err := OverwriteUleb(data, 128); err == nil {
		t.Fatal("want error for value wider than the field")
	}
	// A one-byte field cannot hold 128; only the in-range low bits may
	// have been stored.
	if data[1] != orig[1] {
		t.Fatalf("byte beyond the field touched: % x", data)
	}
}
