package linker

// ObjectFile is the link-time view of one relocatable input, populated
// by the external front end: the relocation engine never parses bytes
// itself. Symbols is indexed by relocation symbol index; ElfSyms mirrors
// the input symbol table for section-symbol fragment lookups.
type ObjectFile struct {
	Name     string
	Priority uint32
	IsAlive  bool

	Symbols []*Symbol
	ElfSyms []Sym

	Sections          []*InputSection
	MergeableSections []*MergeableSection
}

func NewObjectFile(name string) *ObjectFile {
	return &ObjectFile{Name: name, IsAlive: true}
}

func (o *ObjectFile) GetShndx(esym *Sym, idx int64) int64 {
	return int64(esym.Shndx)
}
