package linker

import (
	"debug/elf"
	"fmt"
	"math"

	"github.com/pkg/errors"

	"github.com/lvld-org/lvld/pkg/utils"
)

type InputSection struct {
	File          *ObjectFile
	OutputSection *OutputSection
	Name          string
	Contents      []byte
	Rels          []Rela
	Shdr          Shdr
	Offset        uint32
	ShSize        uint32
	IsAlive       bool
	P2Align       uint8
}

func NewInputSection(ctx *Context, file *ObjectFile, name string, shdr Shdr,
	contents []byte) *InputSection {
	s := &InputSection{
		File:     file,
		Name:     name,
		Contents: contents,
		Shdr:     shdr,
		Offset:   math.MaxUint32,
		ShSize:   uint32(shdr.Size),
		IsAlive:  true,
	}

	if shdr.AddrAlign != 0 {
		for a := shdr.AddrAlign; a&1 == 0; a >>= 1 {
			s.P2Align++
		}
	}

	s.OutputSection = GetOutputSectionInstance(ctx, name, shdr.Type, shdr.Flags)
	return s
}

func (s *InputSection) GetAddr() uint64 {
	return s.OutputSection.Shdr.Addr + uint64(s.Offset)
}

func (s *InputSection) IsAlloc() bool {
	return s.Shdr.Flags&uint64(elf.SHF_ALLOC) != 0
}

func (s *InputSection) relocError(ctx *Context, rel *Rela, sym *Symbol, msg string) {
	ctx.Diags.Report(Diagnostic{
		Severity: SeverityError,
		File:     s.File.Name,
		Section:  s.Name,
		Offset:   rel.Offset,
		Type:     elf.R_LARCH(rel.Type),
		Symbol:   sym.Name,
		Message:  msg,
	})
}

// ScanRelocations records, per referenced symbol, which auxiliary
// storage the apply pass will need. It only sets requirement flags;
// slots are assigned after every section has been scanned.
func (s *InputSection) ScanRelocations(ctx *Context) {
	utils.Assert(s.IsAlloc())

	for i := 0; i < len(s.Rels); i++ {
		rel := &s.Rels[i]
		typ := elf.R_LARCH(rel.Type)

		if typ == elf.R_LARCH_NONE || typ == elf.R_LARCH_RELAX ||
			typ == elf.R_LARCH_MARK_LA || typ == elf.R_LARCH_MARK_PCREL {
			continue
		}

		sym := s.File.Symbols[rel.Sym]
		if sym.File == nil {
			ctx.Diags.ReportUndefined(s, sym, rel)
			continue
		}

		// Indirect functions are always called through the PLT, no
		// matter how they are referenced.
		if sym.IsIfunc {
			sym.AddFlags(NEEDS_GOT | NEEDS_PLT)
		}

		switch typ {
		case elf.R_LARCH_32:
			if !ctx.Is64() {
				ctx.AbsRel.Scan(ctx, s, sym, rel)
			}
		case elf.R_LARCH_64:
			utils.Assert(ctx.Is64())
			ctx.AbsRel.Scan(ctx, s, sym, rel)
		case elf.R_LARCH_B26:
			if sym.IsImported {
				sym.AddFlags(NEEDS_PLT)
			}
		case elf.R_LARCH_GOT_HI20, elf.R_LARCH_GOT_PC_HI20:
			sym.AddFlags(NEEDS_GOT)
		case elf.R_LARCH_TLS_IE_HI20, elf.R_LARCH_TLS_IE_PC_HI20:
			sym.AddFlags(NEEDS_GOTTP)
		case elf.R_LARCH_TLS_LD_PC_HI20, elf.R_LARCH_TLS_GD_PC_HI20,
			elf.R_LARCH_TLS_LD_HI20, elf.R_LARCH_TLS_GD_HI20:
			// GD and LD share one slot pair: the encoded instruction
			// sequences are identical.
			sym.AddFlags(NEEDS_TLSGD)
		case elf.R_LARCH_32_PCREL, elf.R_LARCH_64_PCREL:
			s.scanPcrel(ctx, sym, rel)
		case elf.R_LARCH_TLS_LE_HI20, elf.R_LARCH_TLS_LE_LO12,
			elf.R_LARCH_TLS_LE64_LO20, elf.R_LARCH_TLS_LE64_HI12:
			s.checkTlsLe(ctx, sym, rel)
		case elf.R_LARCH_B16, elf.R_LARCH_B21,
			elf.R_LARCH_ABS_HI20, elf.R_LARCH_ABS_LO12,
			elf.R_LARCH_ABS64_LO20, elf.R_LARCH_ABS64_HI12,
			elf.R_LARCH_PCALA_HI20, elf.R_LARCH_PCALA_LO12,
			elf.R_LARCH_PCALA64_LO20, elf.R_LARCH_PCALA64_HI12,
			elf.R_LARCH_GOT_PC_LO12, elf.R_LARCH_GOT64_PC_LO20,
			elf.R_LARCH_GOT64_PC_HI12, elf.R_LARCH_GOT_LO12,
			elf.R_LARCH_GOT64_LO20, elf.R_LARCH_GOT64_HI12,
			elf.R_LARCH_TLS_IE_PC_LO12, elf.R_LARCH_TLS_IE64_PC_LO20,
			elf.R_LARCH_TLS_IE64_PC_HI12, elf.R_LARCH_TLS_IE_LO12,
			elf.R_LARCH_TLS_IE64_LO20, elf.R_LARCH_TLS_IE64_HI12,
			elf.R_LARCH_ADD6, elf.R_LARCH_SUB6,
			elf.R_LARCH_ADD8, elf.R_LARCH_SUB8,
			elf.R_LARCH_ADD16, elf.R_LARCH_SUB16,
			elf.R_LARCH_ADD32, elf.R_LARCH_SUB32,
			elf.R_LARCH_ADD64, elf.R_LARCH_SUB64,
			elf.R_LARCH_ADD_ULEB128, elf.R_LARCH_SUB_ULEB128:
			break
		default:
			s.relocError(ctx, rel, sym, "unknown relocation")
		}
	}
}

func (s *InputSection) scanPcrel(ctx *Context, sym *Symbol, rel *Rela) {
	// A pc-relative reference to an absolute symbol has no fixed value
	// once the image base can move.
	if ctx.IsPic() && sym.InputSection == nil && sym.SectionFragment == nil {
		s.relocError(ctx, rel, sym,
			"pc-relative relocation against absolute symbol in position-independent output")
	}
}

func (s *InputSection) checkTlsLe(ctx *Context, sym *Symbol, rel *Rela) {
	if ctx.Arg.OutputKind == OutputShared {
		s.relocError(ctx, rel, sym,
			"TLS Local-Exec relocation cannot be used in a shared object")
	}
}

// ApplyRelocAlloc patches base, the in-image copy of this section, with
// final relocation values. Range and alignment failures are reported and
// leave the patch site untouched; the pass always continues with the
// next relocation.
func (s *InputSection) ApplyRelocAlloc(ctx *Context, base []byte) {
	for i := 0; i < len(s.Rels); i++ {
		rel := &s.Rels[i]
		typ := elf.R_LARCH(rel.Type)

		if typ == elf.R_LARCH_NONE || typ == elf.R_LARCH_RELAX ||
			typ == elf.R_LARCH_MARK_LA || typ == elf.R_LARCH_MARK_PCREL {
			continue
		}

		sym := s.File.Symbols[rel.Sym]
		if sym.File == nil {
			ctx.Diags.ReportUndefined(s, sym, rel)
			continue
		}

		loc := base[rel.Offset:]

		S := sym.GetAddr(ctx)
		A := uint64(rel.Addend)
		P := s.GetAddr() + rel.Offset

		var G uint64
		if sym.HasTlsGd(ctx) {
			G = uint64(sym.GetTlsGdIdx(ctx)) * ctx.WordSize()
		} else if sym.HasGot(ctx) {
			G = uint64(sym.GetGotIdx(ctx)) * ctx.WordSize()
		}
		GOT := ctx.Got.Shdr.Addr

		check := func(val int64, lo int64, hi int64) bool {
			if val < lo || hi <= val {
				s.relocError(ctx, rel, sym, fmt.Sprintf(
					"relocation value out of range: %d is not in [%d, %d)", val, lo, hi))
				return false
			}
			return true
		}

		checkBranch := func(val int64, lo int64, hi int64) bool {
			if val&0b11 != 0 {
				s.relocError(ctx, rel, sym, fmt.Sprintf(
					"branch target misaligned: %d needs 4 bytes alignment", val))
				return false
			}
			return check(val, lo, hi)
		}

		switch typ {
		case elf.R_LARCH_32:
			if ctx.Is64() {
				utils.Write[uint32](loc, uint32(S+A))
			} else {
				ctx.AbsRel.Apply(ctx, s, sym, rel, loc, S, A, P)
			}
		case elf.R_LARCH_64:
			utils.Assert(ctx.Is64())
			ctx.AbsRel.Apply(ctx, s, sym, rel, loc, S, A, P)
		case elf.R_LARCH_B16:
			if val := int64(S + A - P); checkBranch(val, -(1 << 17), 1 << 17) {
				writeK16(loc, uint32(val>>2))
			}
		case elf.R_LARCH_B21:
			if val := int64(S + A - P); checkBranch(val, -(1 << 22), 1 << 22) {
				writeD5K16(loc, uint32(val>>2))
			}
		case elf.R_LARCH_B26:
			if val := int64(S + A - P); checkBranch(val, -(1 << 27), 1 << 27) {
				writeD10K16(loc, uint32(val>>2))
			}
		case elf.R_LARCH_ABS_HI20:
			writeJ20(loc, uint32((S+A)>>12))
		case elf.R_LARCH_ABS_LO12:
			writeK12(loc, uint32(S+A))
		case elf.R_LARCH_ABS64_LO20:
			writeJ20(loc, uint32((S+A)>>32))
		case elf.R_LARCH_ABS64_HI12:
			writeK12(loc, uint32((S+A)>>52))
		case elf.R_LARCH_PCALA_HI20:
			if val := int64(pageDelta(S+A, P)); check(val, -(1 << 31), 1 << 31) {
				writeJ20(loc, uint32(val>>12))
			}
		case elf.R_LARCH_PCALA_LO12:
			// The low instruction consumes the raw low bits; its sign
			// extension is already compensated for in the hi20 bias.
			writeK12(loc, uint32(S+A))
		case elf.R_LARCH_PCALA64_LO20:
			writeJ20(loc, uint32(absHi32(int64(S+A), int64(P))>>32))
		case elf.R_LARCH_PCALA64_HI12:
			writeK12(loc, uint32(absHi32(int64(S+A), int64(P))>>52))
		case elf.R_LARCH_GOT_PC_HI20:
			if val := int64(pageDelta(GOT+G+A, P)); check(val, -(1 << 31), 1 << 31) {
				writeJ20(loc, uint32(val>>12))
			}
		case elf.R_LARCH_GOT_PC_LO12:
			writeK12(loc, uint32(GOT+G+A))
		case elf.R_LARCH_GOT64_PC_LO20:
			writeJ20(loc, uint32(absHi32(int64(GOT+G+A), int64(P))>>32))
		case elf.R_LARCH_GOT64_PC_HI12:
			writeK12(loc, uint32(absHi32(int64(GOT+G+A), int64(P))>>52))
		case elf.R_LARCH_GOT_HI20:
			writeJ20(loc, uint32((GOT+G+A)>>12))
		case elf.R_LARCH_GOT_LO12:
			writeK12(loc, uint32(GOT+G+A))
		case elf.R_LARCH_GOT64_LO20:
			writeJ20(loc, uint32((GOT+G+A)>>32))
		case elf.R_LARCH_GOT64_HI12:
			writeK12(loc, uint32((GOT+G+A)>>52))
		case elf.R_LARCH_TLS_LE_HI20:
			writeJ20(loc, uint32((S+A-ctx.TpAddr)>>12))
		case elf.R_LARCH_TLS_LE_LO12:
			writeK12(loc, uint32(S+A-ctx.TpAddr))
		case elf.R_LARCH_TLS_LE64_LO20:
			writeJ20(loc, uint32((S+A-ctx.TpAddr)>>32))
		case elf.R_LARCH_TLS_LE64_HI12:
			writeK12(loc, uint32((S+A-ctx.TpAddr)>>52))
		case elf.R_LARCH_TLS_IE_PC_HI20:
			val := int64(pageDelta(sym.GetGotTpAddr(ctx)+A, P))
			if check(val, -(1 << 31), 1 << 31) {
				writeJ20(loc, uint32(val>>12))
			}
		case elf.R_LARCH_TLS_IE_PC_LO12:
			writeK12(loc, uint32(sym.GetGotTpAddr(ctx)+A))
		case elf.R_LARCH_TLS_IE64_PC_LO20:
			writeJ20(loc, uint32(absHi32(int64(sym.GetGotTpAddr(ctx)+A), int64(P))>>32))
		case elf.R_LARCH_TLS_IE64_PC_HI12:
			writeK12(loc, uint32(absHi32(int64(sym.GetGotTpAddr(ctx)+A), int64(P))>>52))
		case elf.R_LARCH_TLS_IE_HI20:
			writeJ20(loc, uint32((sym.GetGotTpAddr(ctx)+A)>>12))
		case elf.R_LARCH_TLS_IE_LO12:
			writeK12(loc, uint32(sym.GetGotTpAddr(ctx)+A))
		case elf.R_LARCH_TLS_IE64_LO20:
			writeJ20(loc, uint32((sym.GetGotTpAddr(ctx)+A)>>32))
		case elf.R_LARCH_TLS_IE64_HI12:
			writeK12(loc, uint32((sym.GetGotTpAddr(ctx)+A)>>52))
		case elf.R_LARCH_TLS_LD_PC_HI20, elf.R_LARCH_TLS_GD_PC_HI20:
			val := int64(pageDelta(sym.GetTlsGdAddr(ctx)+A, P))
			if check(val, -(1 << 31), 1 << 31) {
				writeJ20(loc, uint32(val>>12))
			}
		case elf.R_LARCH_TLS_LD_HI20, elf.R_LARCH_TLS_GD_HI20:
			writeJ20(loc, uint32((sym.GetTlsGdAddr(ctx)+A)>>12))
		case elf.R_LARCH_ADD6:
			loc[0] = loc[0]&0b1100_0000 | (loc[0]+byte(S+A))&0b0011_1111
		case elf.R_LARCH_ADD8:
			loc[0] += byte(S + A)
		case elf.R_LARCH_ADD16:
			utils.Write[uint16](loc, utils.Read[uint16](loc)+uint16(S+A))
		case elf.R_LARCH_ADD32:
			utils.Write[uint32](loc, utils.Read[uint32](loc)+uint32(S+A))
		case elf.R_LARCH_ADD64:
			utils.Write[uint64](loc, utils.Read[uint64](loc)+S+A)
		case elf.R_LARCH_SUB6:
			loc[0] = loc[0]&0b1100_0000 | (loc[0]-byte(S+A))&0b0011_1111
		case elf.R_LARCH_SUB8:
			loc[0] -= byte(S + A)
		case elf.R_LARCH_SUB16:
			utils.Write[uint16](loc, utils.Read[uint16](loc)-uint16(S+A))
		case elf.R_LARCH_SUB32:
			utils.Write[uint32](loc, utils.Read[uint32](loc)-uint32(S+A))
		case elf.R_LARCH_SUB64:
			utils.Write[uint64](loc, utils.Read[uint64](loc)-(S+A))
		case elf.R_LARCH_32_PCREL:
			utils.Write[uint32](loc, uint32(S+A-P))
		case elf.R_LARCH_64_PCREL:
			utils.Write[uint64](loc, S+A-P)
		case elf.R_LARCH_ADD_ULEB128:
			// A paired add/sub encodes a label difference. The pair is
			// applied as one adjustment: the intermediate sum is a full
			// address and would trip the width check.
			val := utils.ReadUleb(loc) + S + A
			if sub := s.pairedUlebSub(i); sub != nil {
				sym2 := s.File.Symbols[sub.Sym]
				val -= sym2.GetAddr(ctx) + uint64(sub.Addend)
				i++
			}
			if err := utils.OverwriteUleb(loc, val); err != nil {
				s.relocError(ctx, rel, sym, err.Error())
			}
		case elf.R_LARCH_SUB_ULEB128:
			if err := utils.OverwriteUleb(loc, utils.ReadUleb(loc)-S-A); err != nil {
				s.relocError(ctx, rel, sym, err.Error())
			}
		default:
			utils.Fatal("unreachable")
		}
	}
}

// pairedUlebSub returns the SUB_ULEB128 immediately following relocation
// i when it adjusts the same field.
func (s *InputSection) pairedUlebSub(i int) *Rela {
	if i+1 < len(s.Rels) &&
		elf.R_LARCH(s.Rels[i+1].Type) == elf.R_LARCH_SUB_ULEB128 &&
		s.Rels[i+1].Offset == s.Rels[i].Offset {
		return &s.Rels[i+1]
	}
	return nil
}

// ApplyRelocNonAlloc patches sections that are not mapped into the
// image (debug and other metadata). Only data relocations are legal
// here; an instruction relocation means the input is structurally
// invalid, so it aborts the pass.
func (s *InputSection) ApplyRelocNonAlloc(ctx *Context, base []byte) error {
	for i := 0; i < len(s.Rels); i++ {
		rel := &s.Rels[i]
		typ := elf.R_LARCH(rel.Type)

		if typ == elf.R_LARCH_NONE {
			continue
		}

		sym := s.File.Symbols[rel.Sym]
		if sym.File == nil {
			ctx.Diags.ReportUndefined(s, sym, rel)
			continue
		}

		loc := base[rel.Offset:]

		frag, fragOffset := s.GetFragment(rel)

		S := sym.GetAddr(ctx)
		A := uint64(rel.Addend)
		if frag != nil {
			S = frag.GetAddr()
			A = uint64(fragOffset)
		}

		switch typ {
		case elf.R_LARCH_32:
			utils.Write[uint32](loc, uint32(S+A))
		case elf.R_LARCH_64:
			if val, ok := s.getTombstone(sym, frag); ok {
				utils.Write[uint64](loc, val)
			} else {
				utils.Write[uint64](loc, S+A)
			}
		case elf.R_LARCH_ADD6:
			loc[0] = loc[0]&0b1100_0000 | (loc[0]+byte(S+A))&0b0011_1111
		case elf.R_LARCH_ADD8:
			loc[0] += byte(S + A)
		case elf.R_LARCH_ADD16:
			utils.Write[uint16](loc, utils.Read[uint16](loc)+uint16(S+A))
		case elf.R_LARCH_ADD32:
			utils.Write[uint32](loc, utils.Read[uint32](loc)+uint32(S+A))
		case elf.R_LARCH_ADD64:
			utils.Write[uint64](loc, utils.Read[uint64](loc)+S+A)
		case elf.R_LARCH_SUB6:
			loc[0] = loc[0]&0b1100_0000 | (loc[0]-byte(S+A))&0b0011_1111
		case elf.R_LARCH_SUB8:
			loc[0] -= byte(S + A)
		case elf.R_LARCH_SUB16:
			utils.Write[uint16](loc, utils.Read[uint16](loc)-uint16(S+A))
		case elf.R_LARCH_SUB32:
			utils.Write[uint32](loc, utils.Read[uint32](loc)-uint32(S+A))
		case elf.R_LARCH_SUB64:
			utils.Write[uint64](loc, utils.Read[uint64](loc)-(S+A))
		case elf.R_LARCH_TLS_DTPREL32:
			if val, ok := s.getTombstone(sym, frag); ok {
				utils.Write[uint32](loc, uint32(val))
			} else {
				utils.Write[uint32](loc, uint32(S+A-ctx.DtpAddr))
			}
		case elf.R_LARCH_TLS_DTPREL64:
			if val, ok := s.getTombstone(sym, frag); ok {
				utils.Write[uint64](loc, val)
			} else {
				utils.Write[uint64](loc, S+A-ctx.DtpAddr)
			}
		case elf.R_LARCH_ADD_ULEB128:
			val := utils.ReadUleb(loc) + S + A
			if sub := s.pairedUlebSub(i); sub != nil {
				sym2 := s.File.Symbols[sub.Sym]
				S2 := sym2.GetAddr(ctx)
				A2 := uint64(sub.Addend)
				if frag2, off2 := s.GetFragment(sub); frag2 != nil {
					S2 = frag2.GetAddr()
					A2 = uint64(off2)
				}
				val -= S2 + A2
				i++
			}
			if err := utils.OverwriteUleb(loc, val); err != nil {
				s.relocError(ctx, rel, sym, err.Error())
			}
		case elf.R_LARCH_SUB_ULEB128:
			if err := utils.OverwriteUleb(loc, utils.ReadUleb(loc)-S-A); err != nil {
				s.relocError(ctx, rel, sym, err.Error())
			}
		default:
			return errors.Errorf(
				"%s:(%s+%#x): invalid relocation for non-allocated section: %s",
				s.File.Name, s.Name, rel.Offset, typ)
		}
	}

	return nil
}

// GetFragment redirects a relocation against a section symbol of a
// merged section to the fragment it lands in.
func (s *InputSection) GetFragment(rel *Rela) (*SectionFragment, uint32) {
	if int(rel.Sym) >= len(s.File.ElfSyms) ||
		len(s.File.MergeableSections) == 0 {
		return nil, 0
	}

	esym := &s.File.ElfSyms[rel.Sym]
	if esym.Type() != uint8(elf.STT_SECTION) {
		return nil, 0
	}

	m := s.File.MergeableSections[s.File.GetShndx(esym, int64(rel.Sym))]
	if m == nil {
		return nil, 0
	}
	return m.GetFragment(uint32(esym.Val) + uint32(rel.Addend))
}

// getTombstone substitutes a sentinel for references into sections that
// were discarded, so stale addresses never leak into retained metadata.
func (s *InputSection) getTombstone(sym *Symbol, frag *SectionFragment) (uint64, bool) {
	if frag != nil {
		return 0, false
	}

	isec := sym.InputSection
	if isec == nil || isec.IsAlive {
		return 0, false
	}

	// A zero would terminate a .debug_loc/.debug_ranges list early.
	if s.Name == ".debug_loc" || s.Name == ".debug_ranges" {
		return 1, true
	}
	return 0, true
}

func (s *InputSection) WriteTo(ctx *Context, buf []byte) error {
	if s.Shdr.Type == uint32(elf.SHT_NOBITS) || s.ShSize == 0 {
		return nil
	}

	copy(buf, s.Contents)

	if s.IsAlloc() {
		s.ApplyRelocAlloc(ctx, buf)
		return nil
	}
	return s.ApplyRelocNonAlloc(ctx, buf)
}
