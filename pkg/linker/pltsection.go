package linker

import (
	"debug/elf"

	"github.com/pkg/errors"

	"github.com/lvld-org/lvld/pkg/utils"
)

const (
	PltHeaderSize = 32
	PltEntrySize  = 16

	// Slots 0..2 of .got.plt are reserved for the dynamic loader:
	// _DYNAMIC, the link map and the lazy resolver.
	gotPltReservedSlots = 3
)

// The stub templates load an address with a pcalau12i/load pair and
// jump through it. The zero immediates are patched per instance.
//
// Header:  pcalau12i $t2, %hi(.got.plt)
//          sub.[wd]  $t1, $t1, $t3
//          ld.[wd]   $t3, $t2, %lo(.got.plt)
//          addi.[wd] $t1, $t1, -(header size + 12)
//          addi.[wd] $t0, $t2, %lo(.got.plt)
//          srli.[wd] $t1, $t1, (entry size == 16 ? 4 : 3)
//          ld.[wd]   $t0, $t0, word size
//          jr        $t3
var pltHeader64 = []uint32{
	0x1c00000e, 0x0011bdad, 0x28c001cf, 0x02ff51ad,
	0x02c001cc, 0x004505ad, 0x28c0218c, 0x4c0001e0,
}

var pltHeader32 = []uint32{
	0x1c00000e, 0x00113dad, 0x288001cf, 0x02bf51ad,
	0x028001cc, 0x004489ad, 0x2880118c, 0x4c0001e0,
}

// Entry:   pcalau12i $t3, %hi(slot)
//          ld.[wd]   $t3, $t3, %lo(slot)
//          jirl      $t1, $t3, 0
//          nop
var pltEntry64 = []uint32{0x1c00000f, 0x28c001ef, 0x4c0001ed, 0x03400000}
var pltEntry32 = []uint32{0x1c00000f, 0x288001ef, 0x4c0001ed, 0x03400000}

// checkPltRange rejects a slot the pcalau12i/load pair cannot reach.
// The pair covers pc-relative [-0x8000_0800, 0x7fff_f7ff].
func checkPltRange(slot, pc uint64) error {
	if slot-pc+0x80000800 > 0xffffffff {
		return errors.Errorf(
			"PLT stub at %#x cannot reach its slot at %#x", pc, slot)
	}
	return nil
}

func writeStub(loc []byte, insns []uint32) {
	for i, insn := range insns {
		utils.Write[uint32](loc[i*4:], insn)
	}
}

// PltSection holds the lazily-bound stubs. Each stub pairs with a
// .got.plt slot that initially points back at the header.
type PltSection struct {
	Chunk
	Symbols []*Symbol
}

func NewPltSection() *PltSection {
	p := &PltSection{Chunk: NewChunk()}
	p.Name = ".plt"
	p.Shdr.Type = uint32(elf.SHT_PROGBITS)
	p.Shdr.Flags = uint64(elf.SHF_ALLOC | elf.SHF_EXECINSTR)
	p.Shdr.AddrAlign = 16
	return p
}

func (p *PltSection) AddSymbol(ctx *Context, sym *Symbol) {
	sym.SetPltIdx(ctx, int32(len(p.Symbols)))
	p.Symbols = append(p.Symbols, sym)
	p.Shdr.Size = PltHeaderSize + uint64(len(p.Symbols))*PltEntrySize
}

func (p *PltSection) CopyBuf(ctx *Context) error {
	if len(p.Symbols) == 0 {
		return nil
	}

	// Validate every stub before writing the first byte: a failed
	// section must not be left half-patched.
	gotplt := ctx.GotPlt.Shdr.Addr
	if err := checkPltRange(gotplt, p.Shdr.Addr); err != nil {
		return err
	}
	for i, sym := range p.Symbols {
		pc := p.Shdr.Addr + PltHeaderSize + uint64(i)*PltEntrySize
		if err := checkPltRange(sym.GetGotPltAddr(ctx), pc); err != nil {
			return err
		}
	}

	buf := ctx.Buf[p.Shdr.Offset:]

	header, entry := pltHeader64, pltEntry64
	if !ctx.Is64() {
		header, entry = pltHeader32, pltEntry32
	}

	writeStub(buf, header)
	writeJ20(buf, uint32(pageDelta(gotplt, p.Shdr.Addr)>>12))
	writeK12(buf[8:], uint32(gotplt-p.Shdr.Addr))
	writeK12(buf[16:], uint32(gotplt-p.Shdr.Addr))

	for i, sym := range p.Symbols {
		loc := buf[PltHeaderSize+i*PltEntrySize:]
		pc := p.Shdr.Addr + PltHeaderSize + uint64(i)*PltEntrySize
		slot := sym.GetGotPltAddr(ctx)

		writeStub(loc, entry)
		writeJ20(loc, uint32(pageDelta(slot, pc)>>12))
		writeK12(loc[4:], uint32(slot-pc))
	}
	return nil
}

// PltGotSection holds stubs for symbols that already own a regular GOT
// slot: they jump through that slot and never bind lazily, so there is
// no header and no .got.plt involvement.
type PltGotSection struct {
	Chunk
	Symbols []*Symbol
}

func NewPltGotSection() *PltGotSection {
	p := &PltGotSection{Chunk: NewChunk()}
	p.Name = ".plt.got"
	p.Shdr.Type = uint32(elf.SHT_PROGBITS)
	p.Shdr.Flags = uint64(elf.SHF_ALLOC | elf.SHF_EXECINSTR)
	p.Shdr.AddrAlign = 16
	return p
}

func (p *PltGotSection) AddSymbol(ctx *Context, sym *Symbol) {
	sym.SetPltGotIdx(ctx, int32(len(p.Symbols)))
	p.Symbols = append(p.Symbols, sym)
	p.Shdr.Size = uint64(len(p.Symbols)) * PltEntrySize
}

func (p *PltGotSection) CopyBuf(ctx *Context) error {
	for i, sym := range p.Symbols {
		pc := p.Shdr.Addr + uint64(i)*PltEntrySize
		if err := checkPltRange(sym.GetGotAddr(ctx), pc); err != nil {
			return err
		}
	}

	buf := ctx.Buf[p.Shdr.Offset:]

	entry := pltEntry64
	if !ctx.Is64() {
		entry = pltEntry32
	}

	for i, sym := range p.Symbols {
		loc := buf[i*PltEntrySize:]
		pc := p.Shdr.Addr + uint64(i)*PltEntrySize
		slot := sym.GetGotAddr(ctx)

		writeStub(loc, entry)
		writeJ20(loc, uint32(pageDelta(slot, pc)>>12))
		writeK12(loc[4:], uint32(slot-pc))
	}
	return nil
}

// GotPltSection backs the lazy stubs: reserved loader slots followed by
// one slot per .plt entry, each initialized to the resolver trampoline
// in the header.
type GotPltSection struct {
	Chunk
}

func NewGotPltSection() *GotPltSection {
	g := &GotPltSection{Chunk: NewChunk()}
	g.Name = ".got.plt"
	g.Shdr.Type = uint32(elf.SHT_PROGBITS)
	g.Shdr.Flags = uint64(elf.SHF_ALLOC | elf.SHF_WRITE)
	g.Shdr.AddrAlign = 8
	return g
}

func (g *GotPltSection) UpdateShdr(ctx *Context) {
	g.Shdr.Size = (gotPltReservedSlots + uint64(len(ctx.Plt.Symbols))) *
		ctx.WordSize()
}

func (g *GotPltSection) CopyBuf(ctx *Context) error {
	base := ctx.Buf[g.Shdr.Offset:][:g.Shdr.Size]
	for i := range base {
		base[i] = 0
	}

	ws := ctx.WordSize()
	for i := range ctx.Plt.Symbols {
		loc := base[(gotPltReservedSlots+uint64(i))*ws:]
		if ctx.Is64() {
			utils.Write[uint64](loc, ctx.Plt.Shdr.Addr)
		} else {
			utils.Write[uint32](loc, uint32(ctx.Plt.Shdr.Addr))
		}
	}
	return nil
}
