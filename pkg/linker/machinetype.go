package linker

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
)

type MachineType = int8

const (
	MachineTypeNone        MachineType = iota
	MachineTypeLoongArch32 MachineType = iota
	MachineTypeLoongArch64 MachineType = iota
)

func GetMachineTypeFromContents(contents []byte) MachineType {
	if len(contents) < 20 || !bytes.HasPrefix(contents, []byte("\177ELF")) {
		return MachineTypeNone
	}

	machine := binary.LittleEndian.Uint16(contents[18:])
	if machine == uint16(elf.EM_LOONGARCH) {
		class := contents[4]
		switch class {
		case byte(elf.ELFCLASS32):
			return MachineTypeLoongArch32
		case byte(elf.ELFCLASS64):
			return MachineTypeLoongArch64
		}
	}

	return MachineTypeNone
}

type MachineTypeStringer struct {
	MachineType
}

func (mts MachineTypeStringer) String() string {
	switch mts.MachineType {
	case MachineTypeLoongArch32:
		return "loongarch32"
	case MachineTypeLoongArch64:
		return "loongarch64"
	}
	return "none"
}
