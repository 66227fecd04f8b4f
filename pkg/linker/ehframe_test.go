package linker

import (
	"debug/elf"
	"testing"

	"github.com/lvld-org/lvld/pkg/utils"
)

func newEhFixture() *Context {
	ctx := newTestContext()
	ctx.EhFrame.Shdr.Addr = 0x120040000
	ctx.EhFrame.Shdr.Offset = 0x100
	ctx.EhFrame.Shdr.Size = 0x100
	ctx.Buf = make([]byte, 0x200)
	return ctx
}

func TestEhFrameArithmetic(t *testing.T) {
	ctx := newEhFixture()

	loc := ctx.Buf[ctx.EhFrame.Shdr.Offset+8:]
	utils.Write[uint32](loc, 100)

	rel := &Rela{Type: uint32(elf.R_LARCH_ADD32)}
	if err := ctx.EhFrame.ApplyEhReloc(ctx, rel, 8, 42); err != nil {
		t.Fatal(err)
	}
	rel = &Rela{Type: uint32(elf.R_LARCH_SUB32)}
	if err := ctx.EhFrame.ApplyEhReloc(ctx, rel, 8, 2); err != nil {
		t.Fatal(err)
	}

	if got := utils.Read[uint32](loc); got != 140 {
		t.Fatalf("field = %d, want 140", got)
	}
}

func TestEhFramePcrel(t *testing.T) {
	ctx := newEhFixture()

	// An FDE initial-location pointer at .eh_frame + 0x10.
	rel := &Rela{Type: uint32(elf.R_LARCH_32_PCREL)}
	if err := ctx.EhFrame.ApplyEhReloc(ctx, rel, 0x10, 0x120041000); err != nil {
		t.Fatal(err)
	}

	loc := ctx.Buf[ctx.EhFrame.Shdr.Offset+0x10:]
	want := uint32(0x120041000 - (0x120040000 + 0x10))
	if got := utils.Read[uint32](loc); got != want {
		t.Fatalf("pointer = %#x, want %#x", got, want)
	}
}

func TestEhFrameRejectsOtherKinds(t *testing.T) {
	ctx := newEhFixture()

	for _, typ := range []elf.R_LARCH{
		elf.R_LARCH_PCALA_HI20, elf.R_LARCH_B26, elf.R_LARCH_64,
	} {
		rel := &Rela{Type: uint32(typ)}
		if err := ctx.EhFrame.ApplyEhReloc(ctx, rel, 0, 0); err == nil {
			t.Errorf("%s accepted in unwind data", typ)
		}
	}
}
