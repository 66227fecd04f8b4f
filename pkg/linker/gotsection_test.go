package linker

import (
	"debug/elf"
	"testing"

	"github.com/lvld-org/lvld/pkg/utils"
)

func TestGotEntriesLocal(t *testing.T) {
	ctx := newTestContext()
	file := NewObjectFile("a.o")
	ctx.Objs = append(ctx.Objs, file)

	data := newTestSection(ctx, file, ".data", uint64(elf.SHF_ALLOC|elf.SHF_WRITE), 16)
	setAddr(data, 0x120010000)
	sym := newTestSymbol(ctx, file, "var", data, 8)
	sym.AddFlags(NEEDS_GOT)
	AssignSlots(ctx)

	entries := ctx.Got.GetEntries(ctx)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	ent := entries[0]
	if ent.IsDyn() {
		t.Fatal("local symbol slot must be link-time constant")
	}
	if ent.Val != 0x120010008 {
		t.Fatalf("slot value = %#x, want 0x120010008", ent.Val)
	}
}

func TestGotEntriesImported(t *testing.T) {
	ctx := newTestContext()
	file := NewObjectFile("a.o")
	ctx.Objs = append(ctx.Objs, file)

	sym := newTestSymbol(ctx, file, "extvar", nil, 0)
	sym.IsImported = true
	sym.AddFlags(NEEDS_GOT)
	AssignSlots(ctx)

	entries := ctx.Got.GetEntries(ctx)
	if len(entries) != 1 || entries[0].Type != elf.R_LARCH_64 ||
		entries[0].Sym != sym {
		t.Fatalf("want one R_LARCH_64 entry for %s, got %v", sym.Name, entries)
	}
}

func TestGotEntriesIfunc(t *testing.T) {
	ctx := newTestContext()
	file := NewObjectFile("a.o")
	ctx.Objs = append(ctx.Objs, file)

	text := newTestSection(ctx, file, ".text", uint64(elf.SHF_ALLOC), 16)
	setAddr(text, 0x120000000)
	sym := newTestSymbol(ctx, file, "resolver", text, 4)
	sym.IsIfunc = true
	sym.AddFlags(NEEDS_GOT | NEEDS_PLT)
	AssignSlots(ctx)

	entries := ctx.Got.GetEntries(ctx)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	ent := entries[0]
	if ent.Type != elf.R_LARCH_IRELATIVE {
		t.Fatalf("entry type = %s, want IRELATIVE", ent.Type)
	}
	// The slot must hold the resolver itself, not its PLT stub.
	if ent.Val != 0x120000004 {
		t.Fatalf("slot value = %#x, want resolver address 0x120000004", ent.Val)
	}
}

func TestGotEntriesTls(t *testing.T) {
	ctx := newTestContext()
	ctx.TpAddr = 0x120030000
	ctx.DtpAddr = 0x120030000
	file := NewObjectFile("a.o")
	ctx.Objs = append(ctx.Objs, file)

	tdata := newTestSection(ctx, file, ".tdata",
		uint64(elf.SHF_ALLOC|elf.SHF_WRITE|elf.SHF_TLS), 0x100)
	setAddr(tdata, 0x120030000)

	ie := newTestSymbol(ctx, file, "ievar", tdata, 0x20)
	ie.AddFlags(NEEDS_GOTTP)
	gd := newTestSymbol(ctx, file, "gdvar", tdata, 0x40)
	gd.AddFlags(NEEDS_TLSGD)
	AssignSlots(ctx)

	entries := ctx.Got.GetEntries(ctx)
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}

	if entries[0].Val != 0x20 {
		t.Errorf("gottp slot = %#x, want tp-relative 0x20", entries[0].Val)
	}
	// The GD pair holds the module id and the dtp offset.
	if entries[1].Val != 1 {
		t.Errorf("module id slot = %#x, want 1", entries[1].Val)
	}
	if entries[2].Val != 0x40 {
		t.Errorf("dtp offset slot = %#x, want 0x40", entries[2].Val)
	}
	if entries[2].Idx != entries[1].Idx+1 {
		t.Errorf("GD pair not adjacent: %d, %d", entries[1].Idx, entries[2].Idx)
	}
}

func TestGotCopyBufSchedulesDynRelocs(t *testing.T) {
	ctx := newTestContext()
	file := NewObjectFile("a.o")
	ctx.Objs = append(ctx.Objs, file)

	sym := newTestSymbol(ctx, file, "extvar", nil, 0)
	sym.IsImported = true
	sym.AddFlags(NEEDS_GOT)
	AssignSlots(ctx)

	ctx.Got.Shdr.Addr = 0x2000
	ctx.Got.Shdr.Offset = 0x2000
	ctx.Buf = make([]byte, 0x3000)

	if err := ctx.Got.CopyBuf(ctx); err != nil {
		t.Fatal(err)
	}

	if len(ctx.DynRels) != 1 {
		t.Fatalf("got %d dynamic relocations, want 1", len(ctx.DynRels))
	}
	rel := ctx.DynRels[0]
	if rel.Type != elf.R_LARCH_64 || rel.Sym != sym || rel.Offset != 0x2000 {
		t.Fatalf("unexpected dynamic relocation: %+v", rel)
	}
	if got := utils.Read[uint64](ctx.Buf[0x2000:]); got != 0 {
		t.Fatalf("imported slot = %#x, want 0", got)
	}
}

func TestGotMinimumSize(t *testing.T) {
	ctx := newTestContext()
	ctx.Got.UpdateShdr(ctx)
	if ctx.Got.Shdr.Size != 8 {
		t.Fatalf("empty .got size = %d, want one reserved slot", ctx.Got.Shdr.Size)
	}
}
