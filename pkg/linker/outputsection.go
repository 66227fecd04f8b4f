package linker

import (
	"debug/elf"
	"strings"

	"github.com/samber/lo"
)

// OutputSection concatenates the input sections binned into it. Member
// offsets and the section address are assigned by the layout stage;
// CopyBuf only materializes bytes and relocations.
type OutputSection struct {
	Chunk
	Members []*InputSection
	Idx     uint32
}

func NewOutputSection(name string, typ uint32, flags uint64, idx uint32) *OutputSection {
	o := &OutputSection{Chunk: NewChunk()}
	o.Name = name
	o.Shdr.Type = typ
	o.Shdr.Flags = flags
	o.Idx = idx
	return o
}

func GetOutputSectionInstance(ctx *Context, name string, typ uint32,
	flags uint64) *OutputSection {
	name = GetOutputName(name, flags)
	typ = CanonicalizeType(name, typ)
	flags = flags &^ uint64(elf.SHF_GROUP) &^ uint64(elf.SHF_COMPRESSED) &^
		uint64(elf.SHF_LINK_ORDER)

	osec, found := lo.Find(ctx.OutputSections, func(o *OutputSection) bool {
		return o.Name == name && o.Shdr.Type == typ && o.Shdr.Flags == flags
	})
	if found {
		return osec
	}

	osec = NewOutputSection(name, typ, flags, uint32(len(ctx.OutputSections)))
	ctx.OutputSections = append(ctx.OutputSections, osec)
	return osec
}

func (o *OutputSection) CopyBuf(ctx *Context) error {
	if o.Shdr.Type == uint32(elf.SHT_NOBITS) {
		return nil
	}

	base := ctx.Buf[o.Shdr.Offset:]

	// Alignment gaps between members are zeroed so a rerun over a dirty
	// buffer cannot leak stale bytes.
	end := uint64(0)
	for _, isec := range o.Members {
		for i := end; i < uint64(isec.Offset); i++ {
			base[i] = 0
		}
		end = uint64(isec.Offset) + uint64(isec.ShSize)

		if err := isec.WriteTo(ctx, base[isec.Offset:end]); err != nil {
			return err
		}
	}
	return nil
}

var sectionPrefixes = []string{
	".text.", ".data.rel.ro.", ".data.", ".rodata.", ".bss.rel.ro.", ".bss.",
	".init_array.", ".fini_array.", ".tbss.", ".tdata.", ".gcc_except_table.",
	".ctors.", ".dtors.",
}

// GetOutputName folds per-function and per-datum input section names
// into their conventional output section.
func GetOutputName(name string, flags uint64) string {
	if (name == ".rodata" || strings.HasPrefix(name, ".rodata.")) &&
		flags&uint64(elf.SHF_MERGE) != 0 {
		if flags&uint64(elf.SHF_STRINGS) != 0 {
			return ".rodata.str"
		}
		return ".rodata.cst"
	}

	for _, prefix := range sectionPrefixes {
		stem := prefix[:len(prefix)-1]
		if name == stem || strings.HasPrefix(name, prefix) {
			return stem
		}
	}
	return name
}

// CanonicalizeType promotes constructor/destructor arrays compiled as
// plain PROGBITS to their dedicated section types.
func CanonicalizeType(name string, typ uint32) uint32 {
	if typ == uint32(elf.SHT_PROGBITS) {
		if name == ".init_array" || strings.HasPrefix(name, ".init_array.") {
			return uint32(elf.SHT_INIT_ARRAY)
		}
		if name == ".fini_array" || strings.HasPrefix(name, ".fini_array.") {
			return uint32(elf.SHT_FINI_ARRAY)
		}
	}
	return typ
}
