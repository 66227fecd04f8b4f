package linker

import (
	"sync/atomic"
)

const (
	NEEDS_GOT   uint32 = 1 << 0
	NEEDS_PLT   uint32 = 1 << 1
	NEEDS_GOTTP uint32 = 1 << 2
	NEEDS_TLSGD uint32 = 1 << 3
)

type Symbol struct {
	File *ObjectFile

	InputSection    *InputSection
	SectionFragment *SectionFragment

	Value uint64
	Name  string

	SymIdx int32
	AuxIdx int32

	// Requirement flags accumulated during the scan pass. Set-only until
	// the allocation barrier; updated with atomic OR so concurrent
	// per-section scan tasks need no further synchronization.
	Flags uint32

	IsWeak     bool
	IsImported bool
	IsIfunc    bool
}

func NewSymbol(name string) *Symbol {
	return &Symbol{
		Name:   name,
		SymIdx: -1,
		AuxIdx: -1,
	}
}

func GetSymbolByName(ctx *Context, name string) *Symbol {
	if sym, ok := ctx.SymbolMap[name]; ok {
		return sym
	}
	ctx.SymbolMap[name] = NewSymbol(name)
	return ctx.SymbolMap[name]
}

func (s *Symbol) AddFlags(flags uint32) {
	atomic.OrUint32(&s.Flags, flags)
}

func (s *Symbol) SetInputSection(isec *InputSection) {
	s.InputSection = isec
	s.SectionFragment = nil
}

func (s *Symbol) SetSectionFragment(frag *SectionFragment) {
	s.InputSection = nil
	s.SectionFragment = frag
}

// SymbolAux carries the slot indices a symbol was assigned at the
// allocation barrier. An index stays -1 when no slot of that kind was
// required; once set it never changes.
type SymbolAux struct {
	GotIdx    int32
	GotTpIdx  int32
	TlsGdIdx  int32
	PltIdx    int32
	PltGotIdx int32
}

func NewSymbolAux() SymbolAux {
	return SymbolAux{
		GotIdx:    -1,
		GotTpIdx:  -1,
		TlsGdIdx:  -1,
		PltIdx:    -1,
		PltGotIdx: -1,
	}
}

func (s *Symbol) aux(ctx *Context) *SymbolAux {
	return &ctx.SymbolsAux[s.AuxIdx]
}

func (s *Symbol) GetGotIdx(ctx *Context) int32 {
	if s.AuxIdx == -1 {
		return -1
	}
	return s.aux(ctx).GotIdx
}

func (s *Symbol) GetGotTpIdx(ctx *Context) int32 {
	if s.AuxIdx == -1 {
		return -1
	}
	return s.aux(ctx).GotTpIdx
}

func (s *Symbol) GetTlsGdIdx(ctx *Context) int32 {
	if s.AuxIdx == -1 {
		return -1
	}
	return s.aux(ctx).TlsGdIdx
}

func (s *Symbol) GetPltIdx(ctx *Context) int32 {
	if s.AuxIdx == -1 {
		return -1
	}
	return s.aux(ctx).PltIdx
}

func (s *Symbol) GetPltGotIdx(ctx *Context) int32 {
	if s.AuxIdx == -1 {
		return -1
	}
	return s.aux(ctx).PltGotIdx
}

func (s *Symbol) SetGotIdx(ctx *Context, idx int32)    { s.aux(ctx).GotIdx = idx }
func (s *Symbol) SetGotTpIdx(ctx *Context, idx int32)  { s.aux(ctx).GotTpIdx = idx }
func (s *Symbol) SetTlsGdIdx(ctx *Context, idx int32)  { s.aux(ctx).TlsGdIdx = idx }
func (s *Symbol) SetPltIdx(ctx *Context, idx int32)    { s.aux(ctx).PltIdx = idx }
func (s *Symbol) SetPltGotIdx(ctx *Context, idx int32) { s.aux(ctx).PltGotIdx = idx }

func (s *Symbol) HasGot(ctx *Context) bool    { return s.GetGotIdx(ctx) != -1 }
func (s *Symbol) HasGotTp(ctx *Context) bool  { return s.GetGotTpIdx(ctx) != -1 }
func (s *Symbol) HasTlsGd(ctx *Context) bool  { return s.GetTlsGdIdx(ctx) != -1 }
func (s *Symbol) HasPlt(ctx *Context) bool {
	return s.GetPltIdx(ctx) != -1 || s.GetPltGotIdx(ctx) != -1
}

// GetAddr resolves the symbol for relocation purposes. Imported and
// ifunc symbols that own a PLT stub resolve to the stub: calls must go
// through it by convention.
func (s *Symbol) GetAddr(ctx *Context) uint64 {
	if s.HasPlt(ctx) && (s.IsImported || s.IsIfunc) {
		return s.GetPltAddr(ctx)
	}
	return s.GetRawAddr(ctx)
}

// GetRawAddr resolves the symbol without PLT redirection. The GOT needs
// this for ifunc slots, which hold the resolver's own address.
func (s *Symbol) GetRawAddr(ctx *Context) uint64 {
	if s.SectionFragment != nil {
		if !s.SectionFragment.IsAlive {
			return 0
		}
		return s.SectionFragment.GetAddr() + s.Value
	}

	if s.InputSection == nil {
		return s.Value
	}

	if !s.InputSection.IsAlive {
		return 0
	}

	return s.InputSection.GetAddr() + s.Value
}

func (s *Symbol) GetGotAddr(ctx *Context) uint64 {
	return ctx.Got.Shdr.Addr + uint64(s.GetGotIdx(ctx))*ctx.WordSize()
}

func (s *Symbol) GetGotTpAddr(ctx *Context) uint64 {
	return ctx.Got.Shdr.Addr + uint64(s.GetGotTpIdx(ctx))*ctx.WordSize()
}

func (s *Symbol) GetTlsGdAddr(ctx *Context) uint64 {
	return ctx.Got.Shdr.Addr + uint64(s.GetTlsGdIdx(ctx))*ctx.WordSize()
}

func (s *Symbol) GetPltAddr(ctx *Context) uint64 {
	if idx := s.GetPltIdx(ctx); idx != -1 {
		return ctx.Plt.Shdr.Addr + PltHeaderSize + uint64(idx)*PltEntrySize
	}
	return ctx.PltGot.Shdr.Addr + uint64(s.GetPltGotIdx(ctx))*PltEntrySize
}

func (s *Symbol) GetGotPltAddr(ctx *Context) uint64 {
	return ctx.GotPlt.Shdr.Addr +
		(gotPltReservedSlots+uint64(s.GetPltIdx(ctx)))*ctx.WordSize()
}
