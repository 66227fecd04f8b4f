package linker

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

func CreateSyntheticSections(ctx *Context) {
	ctx.Got = NewGotSection()
	ctx.GotPlt = NewGotPltSection()
	ctx.Plt = NewPltSection()
	ctx.PltGot = NewPltGotSection()
	ctx.EhFrame = NewEhFrameSection()

	ctx.Chunks = append(ctx.Chunks,
		ctx.Got, ctx.GotPlt, ctx.Plt, ctx.PltGot, ctx.EhFrame)
}

func BinSections(ctx *Context) {
	group := make([][]*InputSection, len(ctx.OutputSections))
	for _, file := range ctx.Objs {
		for _, isec := range file.Sections {
			if isec == nil || !isec.IsAlive {
				continue
			}
			idx := isec.OutputSection.Idx
			group[idx] = append(group[idx], isec)
		}
	}

	for idx, osec := range ctx.OutputSections {
		osec.Members = group[idx]
	}
}

func CollectOutputSections(ctx *Context) []Chunker {
	osecs := make([]Chunker, 0)
	for _, osec := range ctx.OutputSections {
		if len(osec.Members) > 0 {
			osecs = append(osecs, osec)
		}
	}
	for _, osec := range ctx.MergedSections {
		if osec.Shdr.Size > 0 {
			osecs = append(osecs, osec)
		}
	}
	return osecs
}

// ScanRelocations runs the requirement scan over every live allocated
// section. Sections scan in parallel; the flag writes are atomic ORs
// and diagnostics go through the guarded sink, so tasks never touch
// shared state otherwise.
func ScanRelocations(ctx *Context) error {
	g := errgroup.Group{}
	for _, file := range ctx.Objs {
		if !file.IsAlive {
			continue
		}
		for _, isec := range file.Sections {
			if isec == nil || !isec.IsAlive || !isec.IsAlloc() {
				continue
			}
			isec := isec
			g.Go(func() error {
				isec.ScanRelocations(ctx)
				return nil
			})
		}
	}
	return g.Wait()
}

// AssignSlots converts the accumulated requirement flags into GOT, PLT
// and TLS slot indices. It runs single-threaded in input file order, so
// slot assignment is deterministic regardless of how the scan tasks
// interleaved.
func AssignSlots(ctx *Context) {
	for _, file := range ctx.Objs {
		if !file.IsAlive {
			continue
		}

		syms := lo.Filter(file.Symbols, func(sym *Symbol, _ int) bool {
			return sym != nil && sym.File == file && sym.Flags != 0
		})

		for _, sym := range syms {
			if sym.AuxIdx == -1 {
				sym.AuxIdx = int32(len(ctx.SymbolsAux))
				ctx.SymbolsAux = append(ctx.SymbolsAux, NewSymbolAux())
			}

			if sym.Flags&NEEDS_GOT != 0 {
				ctx.Got.AddGotSymbol(ctx, sym)
			}
			if sym.Flags&NEEDS_GOTTP != 0 {
				ctx.Got.AddGotTpSymbol(ctx, sym)
			}
			if sym.Flags&NEEDS_TLSGD != 0 {
				ctx.Got.AddTlsGdSymbol(ctx, sym)
			}
			if sym.Flags&NEEDS_PLT != 0 {
				if sym.Flags&NEEDS_GOT != 0 {
					ctx.PltGot.AddSymbol(ctx, sym)
				} else {
					ctx.Plt.AddSymbol(ctx, sym)
				}
			}

			sym.Flags = 0
		}
	}
}

// CopyChunks materializes every chunk into the output buffer. Chunks
// never overlap, so they copy in parallel; a fatal error from any chunk
// aborts the pass.
func CopyChunks(ctx *Context) error {
	g := errgroup.Group{}
	for _, chunk := range ctx.Chunks {
		chunk := chunk
		g.Go(func() error {
			return chunk.CopyBuf(ctx)
		})
	}
	return g.Wait()
}

// Link drives the two-pass protocol: scan everything, assign slots and
// addresses, then apply. assignAddresses is the caller's layout stage;
// it runs after sizes are final and must leave every chunk with its
// output address and file offset, and ctx.Buf sized for the image.
//
// No patch byte is written before every section has been scanned and
// every slot assigned, and recoverable diagnostics never stop the apply
// pass: they are collected and returned at the end as one error.
func Link(ctx *Context, assignAddresses func(*Context) error) error {
	if err := ScanRelocations(ctx); err != nil {
		return err
	}

	AssignSlots(ctx)

	for _, chunk := range ctx.Chunks {
		chunk.UpdateShdr(ctx)
	}

	if err := assignAddresses(ctx); err != nil {
		return err
	}

	if err := CopyChunks(ctx); err != nil {
		return err
	}

	if ctx.Diags.HasErrors() {
		diags := ctx.Diags.Diagnostics()
		msgs := lo.Map(diags, func(d Diagnostic, _ int) string {
			return d.String()
		})
		return errors.Errorf("link failed with %d errors:\n%s",
			len(diags), strings.Join(msgs, "\n"))
	}
	return nil
}
