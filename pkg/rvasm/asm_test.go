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
	"testing"

	"github.com/google/go-cmp/cmp"
)

func words(t *testing.T, p *Program) []uint32 {
	t.Helper()
	w := make([]uint32, len(p.Text)/4)
	for i := range w {
		w[i] = binary.LittleEndian.Uint32(p.Text[4*i:])
	}
	return w
}

// Expected encodings were produced with the GNU assembler.
func TestEncodings(t *testing.T) {
	a := New()
	a.ADDI(A0, Zero, 42)
	a.LI(A7, 93)
	a.ECALL()
	a.ADD(A0, A1, A2)
	a.SUB(T0, T1, T2)
	a.LD(A0, SP, 8)
	a.SD(RA, SP, -8)
	a.LUI(A0, 0x12345)
	a.MUL(A0, A0, A1)
	a.SRAI(A0, A0, 3)
	a.LBU(A1, A0, 0)
	a.SB(A1, A0, 1)
	a.RET()
	p, err := a.Link()
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	want := []uint32{
		0x02a00513, // addi a0, zero, 42
		0x05d00893, // li a7, 93
		0x00000073, // ecall
		0x00c58533, // add a0, a1, a2
		0x407302b3, // sub t0, t1, t2
		0x00813503, // ld a0, 8(sp)
		0xfe113c23, // sd ra, -8(sp)
		0x12345537, // lui a0, 0x12345
		0x02b50533, // mul a0, a0, a1
		0x40355513, // srai a0, a0, 3
		0x00054583, // lbu a1, 0(a0)
		0x00b500a3, // sb a1, 1(a0)
		0x00008067, // ret
	}
	if diff := cmp.Diff(want, words(t, p)); diff != "" {
		t.Errorf("encoding mismatch (-want +got):\n%s", diff)
	}
}

func TestBranchAndJumpFixups(t *testing.T) {
	a := New()
	a.Label("top")
	a.NOP()
	a.BEQ(A0, A1, "top")
	a.J("end")
	a.NOP()
	a.Label("end")
	a.BNEZ(A0, "top")
	p, err := a.Link()
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	want := []uint32{
		0x00000013, // nop
		0xfeb50ee3, // beq a0, a1, -4
		0x0080006f, // j +8
		0x00000013, // nop
		0xfe0518e3, // bnez a0, -16
	}
	if diff := cmp.Diff(want, words(t, p)); diff != "" {
		t.Errorf("encoding mismatch (-want +got):\n%s", diff)
	}
}

func TestLargeConstant(t *testing.T) {
	a := New()
	a.LI(A0, 0x12345678)
	a.LI(A1, -1)
	p, err := a.Link()
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	want := []uint32{
		0x12345537, // lui a0, 0x12345
		0x6785051b, // addiw a0, a0, 0x678
		0xfff00593, // li a1, -1
	}
	if diff := cmp.Diff(want, words(t, p)); diff != "" {
		t.Errorf("encoding mismatch (-want +got):\n%s", diff)
	}
}

func TestErrors(t *testing.T) {
	for name, build := range map[string]func(a *Assembler){
		"undefined label": func(a *Assembler) { a.J("nowhere") },
		"duplicate label": func(a *Assembler) { a.Label("x"); a.Label("x") },
		"wide immediate":  func(a *Assembler) { a.ADDI(A0, A0, 4096) },
		"wide constant":   func(a *Assembler) { a.LI(A0, 1<<40) },
		"branch to data":  func(a *Assembler) { a.String("s", "hi"); a.BEQZ(A0, "s") },
	} {
		t.Run(name, func(t *testing.T) {
			a := New()
			build(a)
			if _, err := a.Link(); err == nil {
				t.Errorf("Link succeeded")
			}
		})
	}
}

func TestELFLayout(t *testing.T) {
	a := New()
	a.Label(EntryLabel)
	a.LA(A0, "msg")
	a.LA(A1, "buf")
	a.ECALL()
	a.String("msg", "hello")
	a.Space("buf", 100)
	p, err := a.Link()
	if err != nil {
		t.Fatalf("Link: %v", err)
	}

	f, err := elf.NewFile(bytes.NewReader(p.ELF()))
	if err != nil {
		t.Fatalf("elf.NewFile: %v", err)
	}
	if f.Machine != elf.EM_RISCV || f.Class != elf.ELFCLASS64 || f.Type != elf.ET_EXEC {
		t.Errorf("header = %v %v %v", f.Machine, f.Class, f.Type)
	}
	if f.Entry != TextBase {
		t.Errorf("Entry = %#x, want %#x", f.Entry, TextBase)
	}
	if len(f.Progs) != 2 {
		t.Fatalf("got %d program headers, want 2", len(f.Progs))
	}
	text, data := f.Progs[0], f.Progs[1]
	if text.Vaddr != TextBase || text.Flags != elf.PF_R|elf.PF_X || text.Filesz != uint64(len(p.Text)) {
		t.Errorf("text segment = %+v", text.ProgHeader)
	}
	if data.Vaddr != p.DataAddr || data.Flags != elf.PF_R|elf.PF_W || data.Memsz != data.Filesz+104 {
		t.Errorf("data segment = %+v", data.ProgHeader)
	}
	got := make([]byte, data.Filesz)
	if _, err := data.ReadAt(got, 0); err != nil {
		t.Fatalf("reading data segment: %v", err)
	}
	if !bytes.HasPrefix(got, []byte("hello\x00")) {
		t.Errorf("data segment = %q", got)
	}

	msg, _ := p.Symbol("msg")
	buf, _ := p.Symbol("buf")
	if msg != p.DataAddr || buf != p.DataAddr+8 {
		t.Errorf("symbols msg=%#x buf=%#x, data at %#x", msg, buf, p.DataAddr)
	}

	// auipc a0 / addi a0 must add up to msg.
	w := words(t, p)
	hi := int64(int32(w[0] & 0xfffff000))
	lo := int64(int32(w[1]) >> 20)
	if got := uint64(int64(TextBase) + hi + lo); got != msg {
		t.Errorf("la a0, msg resolves to %#x, want %#x", got, msg)
	}
}
