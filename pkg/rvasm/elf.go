// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rvasm

import (
	"bytes"
	"debug/elf"
	"encoding/binary"

	"gvisor.dev/rvkernel/pkg/sv39"
)

const (
	ehdrSize = 64
	phdrSize = 56
)

// ELF returns p as a static RV64 ELF executable with one PT_LOAD segment
// for text (R+X) and, if there is any data or bss, one for data (R+W).
func (p *Program) ELF() []byte {
	progs := []elf.Prog64{{
		Type:   uint32(elf.PT_LOAD),
		Flags:  uint32(elf.PF_R | elf.PF_X),
		Off:    sv39.PageSize,
		Vaddr:  TextBase,
		Paddr:  TextBase,
		Filesz: uint64(len(p.Text)),
		Memsz:  uint64(len(p.Text)),
		Align:  sv39.PageSize,
	}}
	dataOff := uint64(sv39.PageSize) + (uint64(len(p.Text))+sv39.PageSize-1)&^(sv39.PageSize-1)
	if len(p.Data) > 0 || p.BSSSize > 0 {
		progs = append(progs, elf.Prog64{
			Type:   uint32(elf.PT_LOAD),
			Flags:  uint32(elf.PF_R | elf.PF_W),
			Off:    dataOff,
			Vaddr:  p.DataAddr,
			Paddr:  p.DataAddr,
			Filesz: uint64(len(p.Data)),
			Memsz:  uint64(len(p.Data)) + p.BSSSize,
			Align:  sv39.PageSize,
		})
	}

	hdr := elf.Header64{
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(elf.EM_RISCV),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     p.Entry,
		Phoff:     ehdrSize,
		Ehsize:    ehdrSize,
		Phentsize: phdrSize,
		Phnum:     uint16(len(progs)),
		Shentsize: 64,
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	hdr.Ident[elf.EI_OSABI] = byte(elf.ELFOSABI_NONE)

	var buf bytes.Buffer
	// Writes to a bytes.Buffer cannot fail.
	binary.Write(&buf, binary.LittleEndian, &hdr)
	binary.Write(&buf, binary.LittleEndian, progs)

	out := make([]byte, dataOff+uint64(len(p.Data)))
	copy(out, buf.Bytes())
	copy(out[sv39.PageSize:], p.Text)
	copy(out[dataOff:], p.Data)
	return out
}
