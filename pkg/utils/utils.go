package utils

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/pkg/errors"
)

type Uint interface {
	uint8 | uint16 | uint32 | uint64
}

func MustNo(err error) {
	if err != nil {
		Fatal(err)
	}
}

func Fatal(v any) {
	fmt.Println("lvld: "+"\033[0;1;31mfatal:\033[0m", fmt.Sprintf("%s", v))
	debug.PrintStack()
	os.Exit(1)
}

func Assert(condition bool) {
	if !condition {
		Fatal("Assert failed")
	}
}

func AlignTo(val, align uint64) uint64 {
	if align == 0 {
		return val
	}
	return (val + align - 1) & ^(align - 1)
}

func Read[T any](data []byte) (val T) {
	reader := bytes.NewReader(data)
	err := binary.Read(reader, binary.LittleEndian, &val)
	MustNo(err)
	return
}

func Write[T any](data []byte, e T) {
	buf := &bytes.Buffer{}
	err := binary.Write(buf, binary.LittleEndian, e)
	MustNo(err)
	copy(data, buf.Bytes())
}

func Bit[T Uint](val T, pos int) T {
	return (val >> pos) & 1
}

func Bits[T Uint](val T, hi T, lo T) T {
	return (val >> lo) & ((1 << (hi - lo + 1)) - 1)
}

func SignExtend(val uint64, size int) uint64 {
	return uint64(int64(val<<(63-size)) >> (63 - size))
}

func RemoveIf[T any](elems []T, condition func(T) bool) []T {
	i := 0

	for _, elem := range elems {
		if condition(elem) {
			continue
		}
		elems[i] = elem
		i++
	}
	return elems[:i]
}

// ReadUleb decodes the ULEB128 integer at the beginning of data.
func ReadUleb(data []byte) uint64 {
	val := uint64(0)
	shift := 0
	for _, b := range data {
		val |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			break
		}
		shift += 7
	}
	return val
}

// OverwriteUleb re-encodes val into an existing ULEB128 field without
// changing its byte length. The continuation bits already present decide
// how many bytes are available; a value that needs more bytes than the
// original encoding occupied is an error.
func OverwriteUleb(data []byte, val uint64) error {
	i := 0
	for data[i]&0x80 != 0 {
		data[i] = 0x80 | byte(val&0x7f)
		val >>= 7
		i++
	}
	data[i] = byte(val & 0x7f)

	if val>>7 != 0 {
		return errors.Errorf("uleb128 value does not fit in %d bytes", i+1)
	}
	return nil
}
