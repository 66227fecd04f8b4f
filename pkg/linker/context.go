package linker

import (
	"sync"
)

type OutputKind int8

const (
	OutputExec OutputKind = iota
	OutputPie
	OutputShared
)

type ContextArg struct {
	Emulation  MachineType
	OutputKind OutputKind
}

// Context is the link-wide state threaded through every pass. After the
// allocation barrier it is read-only except for each task's own slice of
// the output buffer and the guarded dynamic-relocation list.
type Context struct {
	Arg ContextArg

	SymbolMap  map[string]*Symbol
	SymbolsAux []SymbolAux

	Got     *GotSection
	Plt     *PltSection
	PltGot  *PltGotSection
	GotPlt  *GotPltSection
	EhFrame *EhFrameSection

	Buf []byte

	Objs []*ObjectFile

	Chunks []Chunker

	MergedSections []*MergedSection
	OutputSections []*OutputSection

	// Thread-pointer bias for Local-Exec and dynamic-thread-pointer bias
	// for the GD/LD models. Assigned by the external layout stage.
	TpAddr  uint64
	DtpAddr uint64

	Diags  *DiagnosticSink
	AbsRel DynAbsRelocHandler

	dynRelMu sync.Mutex
	DynRels  []DynReloc
}

func NewContext() *Context {
	return &Context{
		Arg: ContextArg{
			Emulation:  MachineTypeLoongArch64,
			OutputKind: OutputExec,
		},
		SymbolMap: make(map[string]*Symbol),
		Diags:     NewDiagnosticSink(),
		AbsRel:    &StaticAbsRelocHandler{},
	}
}

func (ctx *Context) Is64() bool {
	return ctx.Arg.Emulation != MachineTypeLoongArch32
}

func (ctx *Context) WordSize() uint64 {
	if ctx.Is64() {
		return 8
	}
	return 4
}

func (ctx *Context) IsPic() bool {
	return ctx.Arg.OutputKind != OutputExec
}

func (ctx *Context) AddDynReloc(rel DynReloc) {
	ctx.dynRelMu.Lock()
	ctx.DynRels = append(ctx.DynRels, rel)
	ctx.dynRelMu.Unlock()
}
