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

package hart

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/rvkernel/pkg/mm"
	"gvisor.dev/rvkernel/pkg/pgalloc"
	"gvisor.dev/rvkernel/pkg/rvasm"
	"gvisor.dev/rvkernel/pkg/sv39"
)

const (
	testHandler  = 0x80201000
	testKernelSP = 0x80300000
)

type machine struct {
	h      *Hart
	kernel *mm.MemorySet
	user   *mm.UserImage
	prog   *rvasm.Program
}

// cx returns the user trap context.
func (m *machine) cx(t *testing.T) *TrapContext {
	t.Helper()
	ppn, ok := m.user.MemorySet.TranslateToPPN(sv39.TrapContext.Floor())
	if !ok {
		t.Fatalf("trap context not mapped")
	}
	return TrapContextAt(m.h.Mem(), ppn)
}

func (m *machine) symbol(t *testing.T, name string) uint64 {
	t.Helper()
	v, ok := m.prog.Symbol(name)
	if !ok {
		t.Fatalf("no symbol %q", name)
	}
	return v
}

// run returns to user mode and checks the trap came back to the kernel.
func (m *machine) run(t *testing.T) Cause {
	t.Helper()
	if err := m.h.RunUser(sv39.TrapContext, m.user.MemorySet.Token()); err != nil {
		t.Fatalf("RunUser: %v", err)
	}
	if m.h.SATP() != m.kernel.Token() || m.h.Priv != Supervisor {
		t.Fatalf("after trap satp = %#x priv = %v, want kernel", m.h.SATP(), m.h.Priv)
	}
	if m.h.X[2] != testKernelSP || m.h.PC != testHandler {
		t.Fatalf("after trap sp = %#x pc = %#x", m.h.X[2], m.h.PC)
	}
	return m.h.Cause()
}

func boot(t *testing.T, build func(a *rvasm.Assembler), cfg Config) *machine {
	t.Helper()
	a := rvasm.New()
	a.Label(rvasm.EntryLabel)
	build(a)
	p, err := a.Link()
	if err != nil {
		t.Fatalf("Link: %v", err)
	}

	mem, err := pgalloc.NewPhysMem(0x80000000, 256*sv39.PageSize)
	if err != nil {
		t.Fatalf("NewPhysMem: %v", err)
	}
	t.Cleanup(func() { mem.Close() })
	base := mem.Start().PageNum()
	fa := pgalloc.NewFrameAllocator(mem, base, base+256)
	tf, err := fa.Alloc()
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	tramp := tf.PPN()

	kernel, err := mm.NewBare(fa)
	if err != nil {
		t.Fatalf("NewBare: %v", err)
	}
	kernel.MapTrampoline(tramp)
	user, err := mm.FromELF(fa, tramp, p.ELF(), 2*sv39.PageSize)
	if err != nil {
		t.Fatalf("FromELF: %v", err)
	}

	h := New(mem, tramp, cfg)
	kernel.Activate(h)
	h.SetTrapVector(uint64(sv39.Trampoline))
	m := &machine{h: h, kernel: kernel, user: user, prog: p}
	*m.cx(t) = AppInitContext(user.Entry, uint64(user.StackTop), kernel.Token(), testKernelSP, testHandler)
	return m
}

func TestSyscallRoundTrip(t *testing.T) {
	m := boot(t, func(a *rvasm.Assembler) {
		a.LI(rvasm.A0, 7)
		a.LI(rvasm.A1, -3)
		a.ADD(rvasm.A2, rvasm.A0, rvasm.A1)
		a.MUL(rvasm.A3, rvasm.A0, rvasm.A1)
		a.Label("call")
		a.Syscall(64)
		a.ADDI(rvasm.A0, rvasm.A0, 1)
		a.Syscall(93)
	}, Config{})

	if got := m.run(t); got != UserEnvCall {
		t.Fatalf("cause = %v, want UserEnvCall", got)
	}
	cx := m.cx(t)
	want := map[rvasm.Reg]int64{rvasm.A0: 7, rvasm.A1: -3, rvasm.A2: 4, rvasm.A3: -21, rvasm.A7: 64, rvasm.SP: int64(m.user.StackTop)}
	for r, v := range want {
		if int64(cx.X[r]) != v {
			t.Errorf("%v = %d, want %d", r, int64(cx.X[r]), v)
		}
	}
	// li a7, 64 is a single instruction before the ecall.
	if ecall := m.symbol(t, "call") + 4; cx.Sepc != ecall {
		t.Errorf("sepc = %#x, want %#x", cx.Sepc, ecall)
	}

	// The kernel returns 100 and skips the ecall.
	cx.X[rvasm.A0] = 100
	cx.Sepc += 4
	if got := m.run(t); got != UserEnvCall {
		t.Fatalf("cause = %v, want UserEnvCall", got)
	}
	if cx.X[rvasm.A0] != 101 || cx.X[rvasm.A7] != 93 {
		t.Errorf("a0 = %d a7 = %d, want 101 and 93", cx.X[rvasm.A0], cx.X[rvasm.A7])
	}
	if m.h.Flushes() < 4 {
		t.Errorf("Flushes() = %d, want a flush on every satp switch", m.h.Flushes())
	}
}

func TestLoadsAndStores(t *testing.T) {
	m := boot(t, func(a *rvasm.Assembler) {
		a.LA(rvasm.T0, "bytes")
		a.LB(rvasm.A0, rvasm.T0, 0)
		a.LBU(rvasm.A1, rvasm.T0, 0)
		a.LH(rvasm.A2, rvasm.T0, 2)
		a.LWU(rvasm.A3, rvasm.T0, 4)
		a.LW(rvasm.A4, rvasm.T0, 4)
		a.LI(rvasm.T1, 0x1234)
		a.LA(rvasm.T2, "buf")
		a.SD(rvasm.T1, rvasm.T2, 0)
		a.SB(rvasm.T1, rvasm.T2, 9)
		a.LD(rvasm.A5, rvasm.T2, 0)
		a.LD(rvasm.A6, rvasm.T2, 8)
		// Misaligned and crossing into the next stack page.
		a.LI(rvasm.T3, -0x1004)
		a.ADD(rvasm.T3, rvasm.SP, rvasm.T3)
		a.LI(rvasm.T1, -2)
		a.SD(rvasm.T1, rvasm.T3, 0)
		a.LD(rvasm.S1, rvasm.T3, 0)
		a.Syscall(93)
		a.Bytes("bytes", []byte{0x80, 0, 0xfe, 0xff, 0xf0, 0xff, 0xff, 0xff})
		a.Space("buf", 16)
	}, Config{})

	if got := m.run(t); got != UserEnvCall {
		t.Fatalf("cause = %v, want UserEnvCall", got)
	}
	cx := m.cx(t)
	got := map[string]int64{}
	for _, r := range []rvasm.Reg{rvasm.A0, rvasm.A1, rvasm.A2, rvasm.A3, rvasm.A4, rvasm.A5, rvasm.A6, rvasm.S1} {
		got[r.String()] = int64(cx.X[r])
	}
	want := map[string]int64{
		"a0": -128,
		"a1": 0x80,
		"a2": -2,
		"a3": 0xfffffff0,
		"a4": -16,
		"a5": 0x1234,
		"a6": 0x3400,
		"s1": -2,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("registers (-want +got):\n%s", diff)
	}
}

func TestFaults(t *testing.T) {
	for _, tc := range []struct {
		name  string
		build func(a *rvasm.Assembler)
		cause Cause
		// tval is a symbol name, or empty for zero.
		tval string
	}{
		{
			name: "store to null",
			build: func(a *rvasm.Assembler) {
				a.Label("insn")
				a.SD(rvasm.Zero, rvasm.Zero, 0)
			},
			cause: StorePageFault,
		},
		{
			name: "load from null",
			build: func(a *rvasm.Assembler) {
				a.Label("insn")
				a.LD(rvasm.A0, rvasm.Zero, 0)
			},
			cause: LoadPageFault,
		},
		{
			name: "store to text",
			build: func(a *rvasm.Assembler) {
				a.LA(rvasm.T0, "insn")
				a.Label("insn")
				a.SW(rvasm.Zero, rvasm.T0, 4)
				a.Label("target")
				a.NOP()
			},
			cause: StorePageFault,
			tval:  "target",
		},
		{
			name: "execute data",
			build: func(a *rvasm.Assembler) {
				a.LA(rvasm.T0, "insn")
				a.JALR(rvasm.Zero, rvasm.T0, 0)
				a.Space("insn", 8)
			},
			cause: InstructionPageFault,
			tval:  "insn",
		},
		{
			name: "zero word",
			build: func(a *rvasm.Assembler) {
				a.Label("insn")
				a.Word(0)
			},
			cause: IllegalInstruction,
		},
		{
			name: "csr access",
			build: func(a *rvasm.Assembler) {
				a.Label("insn")
				a.Word(0xc0102573) // rdtime a0
			},
			cause: IllegalInstruction,
			tval:  "insn",
		},
		{
			name: "ebreak",
			build: func(a *rvasm.Assembler) {
				a.Label("insn")
				a.EBREAK()
			},
			cause: Breakpoint,
			tval:  "insn",
		},
		{
			name: "trampoline from user",
			build: func(a *rvasm.Assembler) {
				a.LI(rvasm.T0, -1)
				a.SLLI(rvasm.T0, rvasm.T0, 12)
				a.Label("insn")
				a.JALR(rvasm.Zero, rvasm.T0, 0)
			},
			cause: InstructionPageFault,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m := boot(t, tc.build, Config{})
			if got := m.run(t); got != tc.cause {
				t.Fatalf("cause = %v, want %v", got, tc.cause)
			}
			cx := m.cx(t)
			var tval uint64
			switch {
			case tc.name == "csr access":
				tval = 0xc0102573
			case tc.name == "trampoline from user":
				tval = uint64(math.MaxUint64) &^ 0xfff
			case tc.tval != "":
				tval = m.symbol(t, tc.tval)
			}
			if got := m.h.TrapValue(); got != tval {
				t.Errorf("stval = %#x, want %#x", got, tval)
			}
			switch tc.cause {
			case InstructionPageFault:
				if cx.Sepc != tval {
					t.Errorf("sepc = %#x, want the target %#x", cx.Sepc, tval)
				}
			default:
				if want := m.symbol(t, "insn"); cx.Sepc != want {
					t.Errorf("sepc = %#x, want %#x", cx.Sepc, want)
				}
			}
		})
	}
}

func TestTimerInterrupt(t *testing.T) {
	m := boot(t, func(a *rvasm.Assembler) {
		a.Label("loop")
		a.ADDI(rvasm.A0, rvasm.A0, 1)
		a.J("loop")
	}, Config{ClockFreq: 1000, CyclesPerInsn: 10})

	m.h.SetTimer(m.h.Time() + 1000)
	if got := m.run(t); got != SupervisorTimer {
		t.Fatalf("cause = %v, want SupervisorTimer", got)
	}
	if !m.h.Cause().Interrupt() {
		t.Errorf("%v is not an interrupt", m.h.Cause())
	}
	if got := m.h.Steps(); got != 100 {
		t.Errorf("Steps() = %d, want 100", got)
	}
	cx := m.cx(t)
	if cx.X[rvasm.A0] != 50 {
		t.Errorf("a0 = %d, want 50", cx.X[rvasm.A0])
	}
	// The interrupted instruction has not executed.
	if loop := m.symbol(t, "loop"); cx.Sepc != loop {
		t.Errorf("sepc = %#x, want %#x", cx.Sepc, loop)
	}

	// An already expired timer interrupts before any instruction.
	if got := m.run(t); got != SupervisorTimer || m.h.Steps() != 100 {
		t.Errorf("second run: cause %v after %d steps", got, m.h.Steps())
	}
}

func TestStepLimit(t *testing.T) {
	m := boot(t, func(a *rvasm.Assembler) {
		a.Label("loop")
		a.J("loop")
	}, Config{MaxSteps: 50})
	if err := m.h.RunUser(sv39.TrapContext, m.user.MemorySet.Token()); !errors.Is(err, ErrStepLimit) {
		t.Fatalf("RunUser = %v, want ErrStepLimit", err)
	}
	if m.h.Steps() != 50 {
		t.Errorf("Steps() = %d, want 50", m.h.Steps())
	}
}

func TestTrampolineChecks(t *testing.T) {
	build := func(a *rvasm.Assembler) { a.Syscall(93) }
	for _, tc := range []struct {
		name  string
		setup func(t *testing.T, m *machine)
		want  string
	}{
		{
			name:  "stvec",
			setup: func(t *testing.T, m *machine) { m.h.SetTrapVector(testHandler) },
			want:  "does not point at the trampoline",
		},
		{
			name: "unmapped in user space",
			setup: func(t *testing.T, m *machine) {
				m.user.MemorySet.PageTables().Unmap(sv39.Trampoline.Floor())
			},
			want: "trampoline not mapped",
		},
		{
			name:  "supervisor sret",
			setup: func(t *testing.T, m *machine) { m.cx(t).Sstatus |= SstatusSPP },
			want:  "sret to supervisor mode",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m := boot(t, build, Config{})
			tc.setup(t, m)
			defer func() {
				r := recover()
				s, _ := r.(string)
				if !strings.Contains(s, tc.want) {
					t.Errorf("panic %v, want one containing %q", r, tc.want)
				}
			}()
			m.h.RunUser(sv39.TrapContext, m.user.MemorySet.Token())
		})
	}
}

func TestArithmetic(t *testing.T) {
	for _, tc := range []struct {
		name   string
		f7, f3 uint32
		a, b   uint64
		want   uint64
	}{
		{"div by zero", 1, 4, 7, 0, math.MaxUint64},
		{"div overflow", 1, 4, 1 << 63, math.MaxUint64, 1 << 63},
		{"rem by zero", 1, 6, 7, 0, 7},
		{"rem overflow", 1, 6, 1 << 63, math.MaxUint64, 0},
		{"divu by zero", 1, 5, 7, 0, math.MaxUint64},
		{"remu by zero", 1, 7, 7, 0, 7},
		{"mulh", 1, 1, 1 << 63, 2, math.MaxUint64},
		{"mulhu", 1, 3, math.MaxUint64, math.MaxUint64, math.MaxUint64 - 1},
		{"mulhsu", 1, 2, math.MaxUint64, math.MaxUint64, math.MaxUint64},
		{"sra", 0x20, 5, 1 << 63, 63, math.MaxUint64},
		{"sll masks", 0, 1, 1, 64, 1},
		{"slt", 0, 2, math.MaxUint64, 0, 1},
		{"sltu", 0, 3, math.MaxUint64, 0, 0},
	} {
		got, ok := op64(tc.f7, tc.f3, tc.a, tc.b)
		if !ok || got != tc.want {
			t.Errorf("%s: op64 = %#x, %v, want %#x", tc.name, got, ok, tc.want)
		}
	}
	if _, ok := op64(0x7f, 0, 1, 1); ok {
		t.Errorf("op64 accepted funct7 0x7f")
	}

	for _, tc := range []struct {
		name   string
		f7, f3 uint32
		a, b   uint32
		want   uint64
	}{
		{"addw wraps and extends", 0, 0, math.MaxInt32, 1, uint64(1<<64 - 1<<31)},
		{"divw overflow", 1, 4, 1 << 31, math.MaxUint32, uint64(1<<64 - 1<<31)},
		{"remuw by zero", 1, 7, 5, 0, 5},
		{"divuw by zero", 1, 5, 5, 0, math.MaxUint64},
		{"sraw", 0x20, 5, 1 << 31, 31, math.MaxUint64},
	} {
		got, ok := op32(tc.f7, tc.f3, tc.a, tc.b)
		if !ok || got != tc.want {
			t.Errorf("%s: op32 = %#x, %v, want %#x", tc.name, got, ok, tc.want)
		}
	}
}

func TestImmediates(t *testing.T) {
	for _, tc := range []struct {
		name   string
		insn   uint32
		decode func(uint32) uint64
		want   int64
	}{
		{"addi 42", 0x02a00513, immI, 42},
		{"li -1", 0xfff00593, immI, -1},
		{"sd -8", 0xfe113c23, immS, -8},
		{"beq -4", 0xfeb50ee3, immB, -4},
		{"bnez -16", 0xfe0518e3, immB, -16},
		{"j 8", 0x0080006f, immJ, 8},
		{"lui", 0x12345537, immU, 0x12345000},
	} {
		if got := int64(tc.decode(tc.insn)); got != tc.want {
			t.Errorf("%s: got %d, want %d", tc.name, got, tc.want)
		}
	}
}
