package linker

import (
	"debug/elf"

	"github.com/lvld-org/lvld/pkg/utils"
)

// DynReloc is a runtime relocation scheduled for the dynamic linker.
type DynReloc struct {
	Offset uint64
	Type   elf.R_LARCH
	Sym    *Symbol
	Addend int64
}

// DynAbsRelocHandler decides what a word-sized absolute relocation turns
// into: a value stored at link time, a base-relative runtime relocation,
// or a symbolic one. The policy (and copy-relocation handling) lives
// outside the relocation engine.
type DynAbsRelocHandler interface {
	Scan(ctx *Context, isec *InputSection, sym *Symbol, rel *Rela)
	Apply(ctx *Context, isec *InputSection, sym *Symbol, rel *Rela,
		loc []byte, S, A, P uint64)
}

// StaticAbsRelocHandler is the policy for non-shared output: absolute
// words resolve at link time, with a RELATIVE entry scheduled when the
// image base can still move at load time.
type StaticAbsRelocHandler struct{}

func (h *StaticAbsRelocHandler) Scan(ctx *Context, isec *InputSection, sym *Symbol, rel *Rela) {
	if sym.IsImported {
		isec.relocError(ctx, rel, sym,
			"absolute relocation against imported symbol")
	}
}

func (h *StaticAbsRelocHandler) Apply(ctx *Context, isec *InputSection, sym *Symbol,
	rel *Rela, loc []byte, S, A, P uint64) {
	if ctx.IsPic() && sym.InputSection != nil {
		ctx.AddDynReloc(DynReloc{
			Offset: P,
			Type:   elf.R_LARCH_RELATIVE,
			Addend: int64(S + A),
		})
	}

	if elf.R_LARCH(rel.Type) == elf.R_LARCH_32 {
		utils.Write[uint32](loc, uint32(S+A))
	} else {
		utils.Write[uint64](loc, S+A)
	}
}
