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

// Package rvasm is a small RV64IM assembler producing static ELF
// executables. It builds the user programs the kernel ships with.
package rvasm

import (
	"encoding/binary"
	"fmt"

	"gvisor.dev/rvkernel/pkg/sv39"
)

// TextBase is the address user text is linked at.
const TextBase = 0x10000

// EntryLabel is the label execution starts at, if defined. Otherwise it
// starts at the first instruction.
const EntryLabel = "_start"

type fixupKind int

const (
	fixBranch fixupKind = iota
	fixJAL
	fixPCRel
)

// fixup patches the instruction at index at once label is placed.
type fixup struct {
	at    int
	label string
	kind  fixupKind
}

type section int

const (
	secText section = iota
	secData
	secBSS
)

type symbol struct {
	sec section
	off uint64
}

// Assembler accumulates instructions and data. Errors are sticky: the first
// one is reported by Link.
type Assembler struct {
	text    []uint32
	data    []byte
	bssSize uint64
	symbols map[string]symbol
	fixups  []fixup
	err     error
}

// New returns an empty Assembler.
func New() *Assembler {
	return &Assembler{symbols: make(map[string]symbol)}
}

func (a *Assembler) errorf(format string, v ...any) {
	if a.err == nil {
		a.err = fmt.Errorf(format, v...)
	}
}

func (a *Assembler) define(name string, sym symbol) {
	if _, ok := a.symbols[name]; ok {
		a.errorf("label %q defined twice", name)
		return
	}
	a.symbols[name] = sym
}

// Label places name at the next instruction.
func (a *Assembler) Label(name string) {
	a.define(name, symbol{sec: secText, off: uint64(len(a.text)) * 4})
}

// Word emits a raw instruction word.
func (a *Assembler) Word(w uint32) {
	a.text = append(a.text, w)
}

// Bytes places b in the data section under name.
func (a *Assembler) Bytes(name string, b []byte) {
	a.define(name, symbol{sec: secData, off: uint64(len(a.data))})
	a.data = append(a.data, b...)
	// Keep data doubleword-aligned.
	for len(a.data)%8 != 0 {
		a.data = append(a.data, 0)
	}
}

// String places the NUL-terminated string s in the data section under name.
func (a *Assembler) String(name, s string) {
	a.Bytes(name, append([]byte(s), 0))
}

// Space reserves n zeroed bytes in the bss section under name.
func (a *Assembler) Space(name string, n uint64) {
	a.define(name, symbol{sec: secBSS, off: a.bssSize})
	a.bssSize += (n + 7) &^ 7
}

func (a *Assembler) imm12(v int64) int64 {
	if !fitsSigned(v, 12) {
		a.errorf("immediate %d does not fit in 12 bits", v)
	}
	return v
}

func (a *Assembler) opImm(f3 uint32, rd, rs1 Reg, imm int64) {
	a.Word(iType(OpImm, rd, f3, rs1, a.imm12(imm)))
}

// ADDI emits rd = rs1 + imm.
func (a *Assembler) ADDI(rd, rs1 Reg, imm int64) { a.opImm(0, rd, rs1, imm) }

// SLTI emits rd = rs1 < imm (signed).
func (a *Assembler) SLTI(rd, rs1 Reg, imm int64) { a.opImm(2, rd, rs1, imm) }

// SLTIU emits rd = rs1 < imm (unsigned).
func (a *Assembler) SLTIU(rd, rs1 Reg, imm int64) { a.opImm(3, rd, rs1, imm) }

// XORI emits rd = rs1 ^ imm.
func (a *Assembler) XORI(rd, rs1 Reg, imm int64) { a.opImm(4, rd, rs1, imm) }

// ORI emits rd = rs1 | imm.
func (a *Assembler) ORI(rd, rs1 Reg, imm int64) { a.opImm(6, rd, rs1, imm) }

// ANDI emits rd = rs1 & imm.
func (a *Assembler) ANDI(rd, rs1 Reg, imm int64) { a.opImm(7, rd, rs1, imm) }

func (a *Assembler) shamt(sh uint) int64 {
	if sh > 63 {
		a.errorf("shift amount %d out of range", sh)
	}
	return int64(sh)
}

// SLLI emits rd = rs1 << sh.
func (a *Assembler) SLLI(rd, rs1 Reg, sh uint) { a.opImm(1, rd, rs1, a.shamt(sh)) }

// SRLI emits rd = rs1 >> sh (logical).
func (a *Assembler) SRLI(rd, rs1 Reg, sh uint) { a.opImm(5, rd, rs1, a.shamt(sh)) }

// SRAI emits rd = rs1 >> sh (arithmetic).
func (a *Assembler) SRAI(rd, rs1 Reg, sh uint) { a.opImm(5, rd, rs1, 0x400|a.shamt(sh)) }

// ADDIW emits rd = sext32(rs1 + imm).
func (a *Assembler) ADDIW(rd, rs1 Reg, imm int64) {
	a.Word(iType(OpImm32, rd, 0, rs1, a.imm12(imm)))
}

func (a *Assembler) op(f3 uint32, f7 uint32, rd, rs1, rs2 Reg) {
	a.Word(rType(OpOp, rd, f3, rs1, rs2, f7))
}

// ADD emits rd = rs1 + rs2.
func (a *Assembler) ADD(rd, rs1, rs2 Reg) { a.op(0, 0, rd, rs1, rs2) }

// SUB emits rd = rs1 - rs2.
func (a *Assembler) SUB(rd, rs1, rs2 Reg) { a.op(0, 0x20, rd, rs1, rs2) }

// SLL emits rd = rs1 << rs2.
func (a *Assembler) SLL(rd, rs1, rs2 Reg) { a.op(1, 0, rd, rs1, rs2) }

// SLT emits rd = rs1 < rs2 (signed).
func (a *Assembler) SLT(rd, rs1, rs2 Reg) { a.op(2, 0, rd, rs1, rs2) }

// SLTU emits rd = rs1 < rs2 (unsigned).
func (a *Assembler) SLTU(rd, rs1, rs2 Reg) { a.op(3, 0, rd, rs1, rs2) }

// XOR emits rd = rs1 ^ rs2.
func (a *Assembler) XOR(rd, rs1, rs2 Reg) { a.op(4, 0, rd, rs1, rs2) }

// SRL emits rd = rs1 >> rs2 (logical).
func (a *Assembler) SRL(rd, rs1, rs2 Reg) { a.op(5, 0, rd, rs1, rs2) }

// SRA emits rd = rs1 >> rs2 (arithmetic).
func (a *Assembler) SRA(rd, rs1, rs2 Reg) { a.op(5, 0x20, rd, rs1, rs2) }

// OR emits rd = rs1 | rs2.
func (a *Assembler) OR(rd, rs1, rs2 Reg) { a.op(6, 0, rd, rs1, rs2) }

// AND emits rd = rs1 & rs2.
func (a *Assembler) AND(rd, rs1, rs2 Reg) { a.op(7, 0, rd, rs1, rs2) }

// MUL emits rd = rs1 * rs2.
func (a *Assembler) MUL(rd, rs1, rs2 Reg) { a.op(0, 1, rd, rs1, rs2) }

// DIV emits rd = rs1 / rs2 (signed).
func (a *Assembler) DIV(rd, rs1, rs2 Reg) { a.op(4, 1, rd, rs1, rs2) }

// DIVU emits rd = rs1 / rs2 (unsigned).
func (a *Assembler) DIVU(rd, rs1, rs2 Reg) { a.op(5, 1, rd, rs1, rs2) }

// REM emits rd = rs1 % rs2 (signed).
func (a *Assembler) REM(rd, rs1, rs2 Reg) { a.op(6, 1, rd, rs1, rs2) }

// REMU emits rd = rs1 % rs2 (unsigned).
func (a *Assembler) REMU(rd, rs1, rs2 Reg) { a.op(7, 1, rd, rs1, rs2) }

// ADDW emits rd = sext32(rs1 + rs2).
func (a *Assembler) ADDW(rd, rs1, rs2 Reg) { a.Word(rType(OpOp32, rd, 0, rs1, rs2, 0)) }

// SUBW emits rd = sext32(rs1 - rs2).
func (a *Assembler) SUBW(rd, rs1, rs2 Reg) { a.Word(rType(OpOp32, rd, 0, rs1, rs2, 0x20)) }

// MULW emits rd = sext32(rs1 * rs2).
func (a *Assembler) MULW(rd, rs1, rs2 Reg) { a.Word(rType(OpOp32, rd, 0, rs1, rs2, 1)) }

// LUI emits rd = sext32(imm20 << 12).
func (a *Assembler) LUI(rd Reg, imm20 int64) { a.Word(uType(OpLUI, rd, imm20)) }

// AUIPC emits rd = pc + sext32(imm20 << 12).
func (a *Assembler) AUIPC(rd Reg, imm20 int64) { a.Word(uType(OpAUIPC, rd, imm20)) }

func (a *Assembler) load(f3 uint32, rd, rs1 Reg, off int64) {
	a.Word(iType(OpLoad, rd, f3, rs1, a.imm12(off)))
}

// LB emits a sign-extending byte load.
func (a *Assembler) LB(rd, rs1 Reg, off int64) { a.load(0, rd, rs1, off) }

// LH emits a sign-extending halfword load.
func (a *Assembler) LH(rd, rs1 Reg, off int64) { a.load(1, rd, rs1, off) }

// LW emits a sign-extending word load.
func (a *Assembler) LW(rd, rs1 Reg, off int64) { a.load(2, rd, rs1, off) }

// LD emits a doubleword load.
func (a *Assembler) LD(rd, rs1 Reg, off int64) { a.load(3, rd, rs1, off) }

// LBU emits a zero-extending byte load.
func (a *Assembler) LBU(rd, rs1 Reg, off int64) { a.load(4, rd, rs1, off) }

// LHU emits a zero-extending halfword load.
func (a *Assembler) LHU(rd, rs1 Reg, off int64) { a.load(5, rd, rs1, off) }

// LWU emits a zero-extending word load.
func (a *Assembler) LWU(rd, rs1 Reg, off int64) { a.load(6, rd, rs1, off) }

func (a *Assembler) store(f3 uint32, rs2, rs1 Reg, off int64) {
	a.Word(sType(OpStore, f3, rs1, rs2, a.imm12(off)))
}

// SB stores the low byte of rs2 at off(rs1).
func (a *Assembler) SB(rs2, rs1 Reg, off int64) { a.store(0, rs2, rs1, off) }

// SH stores the low halfword of rs2 at off(rs1).
func (a *Assembler) SH(rs2, rs1 Reg, off int64) { a.store(1, rs2, rs1, off) }

// SW stores the low word of rs2 at off(rs1).
func (a *Assembler) SW(rs2, rs1 Reg, off int64) { a.store(2, rs2, rs1, off) }

// SD stores rs2 at off(rs1).
func (a *Assembler) SD(rs2, rs1 Reg, off int64) { a.store(3, rs2, rs1, off) }

func (a *Assembler) branch(f3 uint32, rs1, rs2 Reg, label string) {
	a.fixups = append(a.fixups, fixup{at: len(a.text), label: label, kind: fixBranch})
	a.Word(bType(OpBranch, f3, rs1, rs2, 0))
}

// BEQ branches to label if rs1 == rs2.
func (a *Assembler) BEQ(rs1, rs2 Reg, label string) { a.branch(0, rs1, rs2, label) }

// BNE branches to label if rs1 != rs2.
func (a *Assembler) BNE(rs1, rs2 Reg, label string) { a.branch(1, rs1, rs2, label) }

// BLT branches to label if rs1 < rs2 (signed).
func (a *Assembler) BLT(rs1, rs2 Reg, label string) { a.branch(4, rs1, rs2, label) }

// BGE branches to label if rs1 >= rs2 (signed).
func (a *Assembler) BGE(rs1, rs2 Reg, label string) { a.branch(5, rs1, rs2, label) }

// BLTU branches to label if rs1 < rs2 (unsigned).
func (a *Assembler) BLTU(rs1, rs2 Reg, label string) { a.branch(6, rs1, rs2, label) }

// BGEU branches to label if rs1 >= rs2 (unsigned).
func (a *Assembler) BGEU(rs1, rs2 Reg, label string) { a.branch(7, rs1, rs2, label) }

// BEQZ branches to label if rs == 0.
func (a *Assembler) BEQZ(rs Reg, label string) { a.BEQ(rs, Zero, label) }

// BNEZ branches to label if rs != 0.
func (a *Assembler) BNEZ(rs Reg, label string) { a.BNE(rs, Zero, label) }

// BLTZ branches to label if rs < 0.
func (a *Assembler) BLTZ(rs Reg, label string) { a.BLT(rs, Zero, label) }

// JAL jumps to label, saving the return address in rd.
func (a *Assembler) JAL(rd Reg, label string) {
	a.fixups = append(a.fixups, fixup{at: len(a.text), label: label, kind: fixJAL})
	a.Word(jType(OpJAL, rd, 0))
}

// JALR jumps to rs1+off, saving the return address in rd.
func (a *Assembler) JALR(rd, rs1 Reg, off int64) {
	a.Word(iType(OpJALR, rd, 0, rs1, a.imm12(off)))
}

// J jumps to label.
func (a *Assembler) J(label string) { a.JAL(Zero, label) }

// CALL calls label.
func (a *Assembler) CALL(label string) { a.JAL(RA, label) }

// RET returns to ra.
func (a *Assembler) RET() { a.JALR(Zero, RA, 0) }

// MV emits rd = rs.
func (a *Assembler) MV(rd, rs Reg) { a.ADDI(rd, rs, 0) }

// NOP emits addi zero, zero, 0.
func (a *Assembler) NOP() { a.ADDI(Zero, Zero, 0) }

// ECALL emits an environment call.
func (a *Assembler) ECALL() { a.Word(InsnECALL) }

// EBREAK emits a breakpoint.
func (a *Assembler) EBREAK() { a.Word(InsnEBREAK) }

// FENCE emits a full memory fence.
func (a *Assembler) FENCE() { a.Word(InsnFENCE) }

// LI loads the 32-bit signed constant v into rd.
func (a *Assembler) LI(rd Reg, v int64) {
	if fitsSigned(v, 12) {
		a.ADDI(rd, Zero, v)
		return
	}
	if !fitsSigned(v, 32) {
		a.errorf("constant %#x does not fit in 32 bits", v)
		return
	}
	hi, lo := hiLo(v)
	a.LUI(rd, hi)
	if lo != 0 {
		a.ADDIW(rd, rd, lo)
	}
}

// LA loads the address of label into rd.
func (a *Assembler) LA(rd Reg, label string) {
	a.fixups = append(a.fixups, fixup{at: len(a.text), label: label, kind: fixPCRel})
	a.AUIPC(rd, 0)
	a.ADDI(rd, rd, 0)
}

// Syscall emits li a7, id; ecall.
func (a *Assembler) Syscall(id int64) {
	a.LI(A7, id)
	a.ECALL()
}

// Program is a linked executable.
type Program struct {
	// Text is the code, linked at TextBase.
	Text []byte

	// Data is the initialized data, linked at DataAddr.
	Data []byte

	// DataAddr is the address of the data section.
	DataAddr uint64

	// BSSSize is the size of the zeroed region that follows Data.
	BSSSize uint64

	// Entry is the entry point.
	Entry uint64

	symbols map[string]uint64
}

// Symbol returns the address of label.
func (p *Program) Symbol(label string) (uint64, bool) {
	addr, ok := p.symbols[label]
	return addr, ok
}

// Link resolves labels and lays out the program.
func (a *Assembler) Link() (*Program, error) {
	if a.err != nil {
		return nil, a.err
	}
	textSize := uint64(len(a.text)) * 4
	p := &Program{
		DataAddr: (TextBase + textSize + sv39.PageSize - 1) &^ (sv39.PageSize - 1),
		BSSSize:  a.bssSize,
		Entry:    TextBase,
		symbols:  make(map[string]uint64),
	}
	for name, sym := range a.symbols {
		switch sym.sec {
		case secText:
			p.symbols[name] = TextBase + sym.off
		case secData:
			p.symbols[name] = p.DataAddr + sym.off
		case secBSS:
			p.symbols[name] = p.DataAddr + uint64(len(a.data)) + sym.off
		}
	}
	if entry, ok := p.symbols[EntryLabel]; ok {
		p.Entry = entry
	}

	text := make([]uint32, len(a.text))
	copy(text, a.text)
	for _, f := range a.fixups {
		target, ok := p.symbols[f.label]
		if !ok {
			return nil, fmt.Errorf("undefined label %q", f.label)
		}
		pc := TextBase + uint64(f.at)*4
		off := int64(target - pc)
		switch f.kind {
		case fixBranch:
			if a.symbols[f.label].sec != secText || !fitsSigned(off, 13) {
				return nil, fmt.Errorf("branch to %q out of range", f.label)
			}
			text[f.at] |= bType(0, 0, 0, 0, off)
		case fixJAL:
			if a.symbols[f.label].sec != secText || !fitsSigned(off, 21) {
				return nil, fmt.Errorf("jump to %q out of range", f.label)
			}
			text[f.at] |= jType(0, 0, off)
		case fixPCRel:
			if !fitsSigned(off, 32) {
				return nil, fmt.Errorf("address of %q out of range", f.label)
			}
			hi, lo := hiLo(off)
			text[f.at] |= uType(0, 0, hi)
			text[f.at+1] |= iType(0, 0, 0, 0, lo)
		}
	}

	p.Text = make([]byte, textSize)
	for i, w := range text {
		binary.LittleEndian.PutUint32(p.Text[4*i:], w)
	}
	p.Data = append([]byte(nil), a.data...)
	return p, nil
}
