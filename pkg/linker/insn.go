package linker

import (
	"github.com/lvld-org/lvld/pkg/utils"
)

// All instructions are 4 bytes. A 32-bit address is materialized with a
// pcalau12i/addi pair: pcalau12i computes (pc + imm<<12) and zero-clears
// bits [11:0], then the second instruction sign-extends its 12-bit
// immediate and adds it. A 64-bit absolute address needs two more
// instructions (lu32i.d/lu52i.d) carrying bits [51:32] and [63:52].

func page(val uint64) uint64 {
	return val &^ uint64(0xfff)
}

// pageDelta returns the value the hi20 field materializes for a
// pc-relative reference to val. Because the companion lo12 instruction
// sign-extends its immediate, the page is biased by 0x800: a target
// whose low 12 bits are >= 0x800 would otherwise decode one page low.
func pageDelta(val, pc uint64) uint64 {
	return page(val+0x800) - page(pc)
}

// absHi32 returns the upper 32 bits, relative to pc, consumed by the
// lu32i.d/lu52i.d pair of a 4-instruction 64-bit sequence. The
// (val & 0x800) << 21 term backs out the sign extension that the low
// instruction pair carries into bit 32.
func absHi32(val, pc int64) int64 {
	return (val - ((val & 0x800) << 21)) - (pc & ^int64(0xffffffff))
}

func writeJ20(loc []byte, val uint32) {
	mask := uint32(0b11111110_00000000_00000000_00011111)
	utils.Write[uint32](loc, utils.Read[uint32](loc)&mask|(val&0xfffff)<<5)
}

func writeK12(loc []byte, val uint32) {
	mask := uint32(0b11111111_11110000_00000011_11111111)
	utils.Write[uint32](loc, utils.Read[uint32](loc)&mask|(val&0xfff)<<10)
}

func writeD5K16(loc []byte, val uint32) {
	mask := uint32(0b11111100_00000000_00000011_11100000)
	bits := (val&0xffff)<<10 | (val>>16)&0x1f
	utils.Write[uint32](loc, utils.Read[uint32](loc)&mask|bits)
}

func writeD10K16(loc []byte, val uint32) {
	mask := uint32(0b11111100_00000000_00000000_00000000)
	bits := (val&0xffff)<<10 | (val>>16)&0x3ff
	utils.Write[uint32](loc, utils.Read[uint32](loc)&mask|bits)
}

func writeK16(loc []byte, val uint32) {
	mask := uint32(0b11111100_00000000_00000011_11111111)
	utils.Write[uint32](loc, utils.Read[uint32](loc)&mask|(val&0xffff)<<10)
}

func readJ20(loc []byte) uint32 {
	return utils.Bits(utils.Read[uint32](loc), 24, 5)
}

func readK12(loc []byte) uint32 {
	return utils.Bits(utils.Read[uint32](loc), 21, 10)
}

func readD5K16(loc []byte) uint32 {
	insn := utils.Read[uint32](loc)
	return utils.Bits(insn, 4, 0)<<16 | utils.Bits(insn, 25, 10)
}

func readD10K16(loc []byte) uint32 {
	insn := utils.Read[uint32](loc)
	return utils.Bits(insn, 9, 0)<<16 | utils.Bits(insn, 25, 10)
}

func readK16(loc []byte) uint32 {
	return utils.Bits(utils.Read[uint32](loc), 25, 10)
}
