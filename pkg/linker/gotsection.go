package linker

import (
	"debug/elf"

	"github.com/lvld-org/lvld/pkg/utils"
)

// GotEntry is one word-sized slot of .got. Type is R_LARCH_NONE for a
// slot whose value is final at link time; anything else schedules a
// runtime relocation against the slot.
type GotEntry struct {
	Idx  int64
	Val  uint64
	Type elf.R_LARCH
	Sym  *Symbol
}

func (e GotEntry) IsDyn() bool {
	return e.Type != elf.R_LARCH_NONE
}

type GotSection struct {
	Chunk
	GotSyms   []*Symbol
	GotTpSyms []*Symbol
	TlsGdSyms []*Symbol
}

func NewGotSection() *GotSection {
	g := &GotSection{Chunk: NewChunk()}
	g.Name = ".got"
	g.Shdr.Type = uint32(elf.SHT_PROGBITS)
	g.Shdr.Flags = uint64(elf.SHF_ALLOC | elf.SHF_WRITE)
	g.Shdr.AddrAlign = 8
	return g
}

func (g *GotSection) AddGotSymbol(ctx *Context, sym *Symbol) {
	sym.SetGotIdx(ctx, int32(g.Shdr.Size/ctx.WordSize()))
	g.Shdr.Size += ctx.WordSize()
	g.GotSyms = append(g.GotSyms, sym)
}

func (g *GotSection) AddGotTpSymbol(ctx *Context, sym *Symbol) {
	sym.SetGotTpIdx(ctx, int32(g.Shdr.Size/ctx.WordSize()))
	g.Shdr.Size += ctx.WordSize()
	g.GotTpSyms = append(g.GotTpSyms, sym)
}

// AddTlsGdSymbol reserves the module-id/offset pair the General-Dynamic
// and Local-Dynamic sequences both load.
func (g *GotSection) AddTlsGdSymbol(ctx *Context, sym *Symbol) {
	sym.SetTlsGdIdx(ctx, int32(g.Shdr.Size/ctx.WordSize()))
	g.Shdr.Size += ctx.WordSize() * 2
	g.TlsGdSyms = append(g.TlsGdSyms, sym)
}

func (g *GotSection) absRelType(ctx *Context) elf.R_LARCH {
	if ctx.Is64() {
		return elf.R_LARCH_64
	}
	return elf.R_LARCH_32
}

func (g *GotSection) tpRelType(ctx *Context) elf.R_LARCH {
	if ctx.Is64() {
		return elf.R_LARCH_TLS_TPREL64
	}
	return elf.R_LARCH_TLS_TPREL32
}

// GetEntries computes the contents of every allocated slot. The split
// from CopyBuf keeps the slot semantics testable without an output
// buffer.
func (g *GotSection) GetEntries(ctx *Context) []GotEntry {
	entries := []GotEntry{}

	for _, sym := range g.GotSyms {
		idx := int64(sym.GetGotIdx(ctx))
		switch {
		case sym.IsImported:
			entries = append(entries, GotEntry{
				Idx: idx, Type: g.absRelType(ctx), Sym: sym,
			})
		case sym.IsIfunc:
			// The resolver's own address: the loader calls it and stores
			// the result back into the slot.
			entries = append(entries, GotEntry{
				Idx: idx, Val: sym.GetRawAddr(ctx),
				Type: elf.R_LARCH_IRELATIVE,
			})
		default:
			entries = append(entries, GotEntry{Idx: idx, Val: sym.GetAddr(ctx)})
		}
	}

	for _, sym := range g.GotTpSyms {
		idx := int64(sym.GetGotTpIdx(ctx))
		if sym.IsImported {
			entries = append(entries, GotEntry{
				Idx: idx, Type: g.tpRelType(ctx), Sym: sym,
			})
		} else {
			entries = append(entries, GotEntry{
				Idx: idx, Val: sym.GetAddr(ctx) - ctx.TpAddr,
			})
		}
	}

	for _, sym := range g.TlsGdSyms {
		idx := int64(sym.GetTlsGdIdx(ctx))
		if sym.IsImported {
			entries = append(entries,
				GotEntry{Idx: idx, Type: elf.R_LARCH_TLS_DTPMOD64, Sym: sym},
				GotEntry{Idx: idx + 1, Type: elf.R_LARCH_TLS_DTPREL64, Sym: sym})
		} else {
			// A single load module is always module 1.
			entries = append(entries,
				GotEntry{Idx: idx, Val: 1},
				GotEntry{Idx: idx + 1, Val: sym.GetAddr(ctx) - ctx.DtpAddr})
		}
	}

	return entries
}

func (g *GotSection) UpdateShdr(ctx *Context) {
	// Even with no referenced slot the section keeps one reserved null
	// entry, so _GLOBAL_OFFSET_TABLE_ always has an address.
	if g.Shdr.Size == 0 {
		g.Shdr.Size = ctx.WordSize()
	}
}

func (g *GotSection) CopyBuf(ctx *Context) error {
	base := ctx.Buf[g.Shdr.Offset:][:g.Shdr.Size]
	for i := range base {
		base[i] = 0
	}

	ws := ctx.WordSize()
	for _, ent := range g.GetEntries(ctx) {
		loc := base[uint64(ent.Idx)*ws:]
		if ctx.Is64() {
			utils.Write[uint64](loc, ent.Val)
		} else {
			utils.Write[uint32](loc, uint32(ent.Val))
		}

		if ent.IsDyn() {
			ctx.AddDynReloc(DynReloc{
				Offset: g.Shdr.Addr + uint64(ent.Idx)*ws,
				Type:   ent.Type,
				Sym:    ent.Sym,
				Addend: int64(ent.Val),
			})
		}
	}
	return nil
}
