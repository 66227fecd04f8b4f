package linker

import (
	"debug/elf"
	"fmt"
	"sync"
)

type Severity uint8

const (
	SeverityError Severity = iota
	SeverityFatal
)

// Diagnostic is one recoverable link error attributed to the relocation
// that produced it. Recoverable errors accumulate; the link fails once,
// at the end, with all of them.
type Diagnostic struct {
	Severity Severity
	File     string
	Section  string
	Offset   uint64
	Type     elf.R_LARCH
	Symbol   string
	Message  string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s:(%s+%#x): relocation %s against %s: %s",
		d.File, d.Section, d.Offset, d.Type, d.Symbol, d.Message)
}

type DiagnosticSink struct {
	mu     sync.Mutex
	diags  []Diagnostic
	undefs map[*Symbol]struct{}
}

func NewDiagnosticSink() *DiagnosticSink {
	return &DiagnosticSink{undefs: make(map[*Symbol]struct{})}
}

func (d *DiagnosticSink) Report(diag Diagnostic) {
	d.mu.Lock()
	d.diags = append(d.diags, diag)
	d.mu.Unlock()
}

// ReportUndefined records an undefined-symbol error once per symbol no
// matter how many relocations reference it.
func (d *DiagnosticSink) ReportUndefined(isec *InputSection, sym *Symbol, rel *Rela) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, seen := d.undefs[sym]; seen {
		return
	}
	d.undefs[sym] = struct{}{}

	d.diags = append(d.diags, Diagnostic{
		Severity: SeverityError,
		File:     isec.File.Name,
		Section:  isec.Name,
		Offset:   rel.Offset,
		Type:     elf.R_LARCH(rel.Type),
		Symbol:   sym.Name,
		Message:  "undefined symbol",
	})
}

func (d *DiagnosticSink) HasErrors() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.diags) > 0
}

func (d *DiagnosticSink) Diagnostics() []Diagnostic {
	d.mu.Lock()
	defer d.mu.Unlock()
	diags := make([]Diagnostic, len(d.diags))
	copy(diags, d.diags)
	return diags
}
