package linker

import (
	"debug/elf"

	"github.com/pkg/errors"

	"github.com/lvld-org/lvld/pkg/utils"
)

// EhFrameSection is the merged unwind table. Record layout (CIE and FDE
// dedup, offsets, sizes) is decided by the frame-merging stage; this
// chunk only owns the relocation semantics of the reassembled bytes.
type EhFrameSection struct {
	Chunk
}

func NewEhFrameSection() *EhFrameSection {
	e := &EhFrameSection{Chunk: NewChunk()}
	e.Name = ".eh_frame"
	e.Shdr.Type = uint32(elf.SHT_PROGBITS)
	e.Shdr.Flags = uint64(elf.SHF_ALLOC)
	e.Shdr.AddrAlign = 8
	return e
}

// ApplyEhReloc patches one relocation at the given offset into the
// output unwind table, where val is the resolved S + A. Unwind records
// only ever carry arithmetic and pc-relative pointer relocations; any
// other kind means the frame data is corrupt and the link cannot
// produce a usable table, so it fails outright instead of accumulating
// a diagnostic.
func (e *EhFrameSection) ApplyEhReloc(ctx *Context, rel *Rela, offset uint64,
	val uint64) error {
	loc := ctx.Buf[e.Shdr.Offset+offset:]

	switch typ := elf.R_LARCH(rel.Type); typ {
	case elf.R_LARCH_NONE:
	case elf.R_LARCH_ADD6:
		loc[0] = loc[0]&0b1100_0000 | (loc[0]+byte(val))&0b0011_1111
	case elf.R_LARCH_ADD8:
		loc[0] += byte(val)
	case elf.R_LARCH_ADD16:
		utils.Write[uint16](loc, utils.Read[uint16](loc)+uint16(val))
	case elf.R_LARCH_ADD32:
		utils.Write[uint32](loc, utils.Read[uint32](loc)+uint32(val))
	case elf.R_LARCH_ADD64:
		utils.Write[uint64](loc, utils.Read[uint64](loc)+val)
	case elf.R_LARCH_SUB6:
		loc[0] = loc[0]&0b1100_0000 | (loc[0]-byte(val))&0b0011_1111
	case elf.R_LARCH_SUB8:
		loc[0] -= byte(val)
	case elf.R_LARCH_SUB16:
		utils.Write[uint16](loc, utils.Read[uint16](loc)-uint16(val))
	case elf.R_LARCH_SUB32:
		utils.Write[uint32](loc, utils.Read[uint32](loc)-uint32(val))
	case elf.R_LARCH_SUB64:
		utils.Write[uint64](loc, utils.Read[uint64](loc)-val)
	case elf.R_LARCH_32_PCREL:
		utils.Write[uint32](loc, uint32(val-e.Shdr.Addr-offset))
	case elf.R_LARCH_64_PCREL:
		utils.Write[uint64](loc, val-e.Shdr.Addr-offset)
	default:
		return errors.Errorf("unsupported relocation in .eh_frame: %s", typ)
	}
	return nil
}
