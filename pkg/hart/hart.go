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

// Package hart simulates a single RV64IM hardware thread with an Sv39 MMU,
// a CLINT timer and the trampoline that moves between user and supervisor
// mode.
//
// The kernel runs natively as Go code. Only user programs are interpreted:
// RunUser performs the trampoline's restore sequence, executes user
// instructions until the next trap, and then performs the save sequence,
// leaving the hart in supervisor mode on the kernel page table.
package hart

import (
	"errors"
	"fmt"

	"gvisor.dev/rvkernel/pkg/log"
	"gvisor.dev/rvkernel/pkg/pagetables"
	"gvisor.dev/rvkernel/pkg/pgalloc"
	"gvisor.dev/rvkernel/pkg/sv39"
)

// Privilege is a RISC-V privilege level.
type Privilege int

// Privilege levels.
const (
	User       Privilege = 0
	Supervisor Privilege = 1
)

// String implements fmt.Stringer.String.
func (p Privilege) String() string {
	switch p {
	case User:
		return "U"
	case Supervisor:
		return "S"
	default:
		return fmt.Sprintf("Privilege(%d)", int(p))
	}
}

// ErrStepLimit is returned by RunUser when the configured instruction budget
// is exhausted.
var ErrStepLimit = errors.New("instruction budget exhausted")

// Config configures a Hart.
type Config struct {
	// ClockFreq is the frequency of mtime in ticks per second.
	ClockFreq uint64

	// CyclesPerInsn is how far mtime advances for each user instruction.
	// Zero means one.
	CyclesPerInsn uint64

	// TrapCycles is how far mtime advances for each trap taken.
	TrapCycles uint64

	// MaxSteps bounds the total number of user instructions executed. Zero
	// means unlimited.
	MaxSteps uint64
}

// Hart is the simulated hardware thread. It is not safe for concurrent use;
// exactly one kernel control flow drives it at a time.
type Hart struct {
	mem        *pgalloc.PhysMem
	trampoline sv39.PhysPageNum
	cfg        Config

	// X are the integer registers. X[0] is forced to zero after every
	// instruction.
	X [32]uint64

	// PC is the program counter.
	PC uint64

	// Priv is the current privilege level.
	Priv Privilege

	satp    uint64
	pt      *pagetables.PageTables
	stvec   uint64
	sepc    uint64
	scause  Cause
	stval   uint64
	sstatus uint64

	mtime    uint64
	mtimecmp uint64

	steps   uint64
	flushes uint64
}

// New returns a hart in supervisor mode with translation off. trampoline is
// the physical page holding the trampoline code; every address space the
// hart enters must map it at sv39.Trampoline.
func New(mem *pgalloc.PhysMem, trampoline sv39.PhysPageNum, cfg Config) *Hart {
	if cfg.CyclesPerInsn == 0 {
		cfg.CyclesPerInsn = 1
	}
	return &Hart{
		mem:        mem,
		trampoline: trampoline,
		cfg:        cfg,
		Priv:       Supervisor,
		mtimecmp:   ^uint64(0),
	}
}

// Mem returns the hart's physical memory.
func (h *Hart) Mem() *pgalloc.PhysMem {
	return h.mem
}

// SetSATP writes the satp register.
func (h *Hart) SetSATP(token uint64) {
	h.satp = token
	if token == 0 {
		h.pt = nil
		return
	}
	h.pt = pagetables.FromToken(h.mem, token)
}

// SATP returns the satp register.
func (h *Hart) SATP() uint64 {
	return h.satp
}

// FlushTLB executes sfence.vma. The hart keeps no TLB, so this only counts
// flushes.
func (h *Hart) FlushTLB() {
	h.flushes++
}

// Flushes returns the number of TLB flushes executed.
func (h *Hart) Flushes() uint64 {
	return h.flushes
}

// SetTrapVector writes stvec.
func (h *Hart) SetTrapVector(addr uint64) {
	h.stvec = addr
}

// TrapVector returns stvec.
func (h *Hart) TrapVector() uint64 {
	return h.stvec
}

// Cause returns scause.
func (h *Hart) Cause() Cause {
	return h.scause
}

// TrapValue returns stval.
func (h *Hart) TrapValue() uint64 {
	return h.stval
}

// Time returns mtime.
func (h *Hart) Time() uint64 {
	return h.mtime
}

// ClockFreq returns the frequency of mtime.
func (h *Hart) ClockFreq() uint64 {
	return h.cfg.ClockFreq
}

// SetTimer programs mtimecmp. A supervisor timer interrupt is pending while
// mtime >= mtimecmp.
func (h *Hart) SetTimer(cmp uint64) {
	h.mtimecmp = cmp
}

// Steps returns the number of user instructions executed.
func (h *Hart) Steps() uint64 {
	return h.steps
}

// checkTrampoline panics unless the current address space maps the
// trampoline page executable at sv39.Trampoline.
func (h *Hart) checkTrampoline() {
	if h.pt == nil {
		panic("trampoline entered with translation off")
	}
	pte, ok := h.pt.Translate(sv39.Trampoline.Floor())
	if !ok || !pte.Executable() || pte.UserAccessible() || pte.PPN() != h.trampoline {
		panic(fmt.Sprintf("trampoline not mapped in address space %#x: %v", h.satp, pte))
	}
}

// trapContext returns the trap context at va in the current address space.
func (h *Hart) trapContext(va sv39.VirtAddr) *TrapContext {
	if !va.Aligned() {
		panic(fmt.Sprintf("unaligned trap context %v", va))
	}
	pte, ok := h.pt.Translate(va.Floor())
	if !ok || !pte.Readable() || !pte.Writable() || pte.UserAccessible() {
		panic(fmt.Sprintf("trap context %v not mapped in address space %#x: %v", va, h.satp, pte))
	}
	return TrapContextAt(h.mem, pte.PPN())
}

// RunUser returns to user mode through the trampoline and runs until the
// next trap, which is taken back through the trampoline.
//
// On entry the hart must be in supervisor mode on the kernel page table with
// stvec pointing at the trampoline. trapCx is the virtual address of the
// trap context in the user address space, and userToken is that address
// space's satp value.
//
// On return the trap context holds the user registers, sepc, scause and
// stval describe the trap, satp is the kernel's, sp is the kernel stack
// pointer and PC is the kernel trap handler.
func (h *Hart) RunUser(trapCx sv39.VirtAddr, userToken uint64) error {
	if h.Priv != Supervisor {
		panic("RunUser called from user mode")
	}
	if h.stvec != uint64(sv39.Trampoline) {
		panic(fmt.Sprintf("stvec %#x does not point at the trampoline", h.stvec))
	}

	// __restore: switch to the user address space and reload registers.
	h.checkTrampoline()
	h.SetSATP(userToken)
	h.FlushTLB()
	h.checkTrampoline()
	cx := h.trapContext(trapCx)
	h.sstatus = cx.Sstatus
	h.sepc = cx.Sepc
	h.X = cx.X
	h.X[0] = 0

	// sret.
	if h.sstatus&SstatusSPP != 0 {
		panic("sret to supervisor mode")
	}
	h.Priv = User
	h.PC = h.sepc

	cause, tval, err := h.run()
	if err != nil {
		return err
	}
	if log.IsLogging(log.Debug) {
		log.Debugf("hart: trap %v at pc %#x, stval %#x", cause, h.PC, tval)
	}

	// Trap entry.
	h.sepc = h.PC
	h.scause = cause
	h.stval = tval
	h.sstatus &^= SstatusSPP
	h.Priv = Supervisor
	h.mtime += h.cfg.TrapCycles
	h.PC = h.stvec

	// __alltraps: save registers and switch to the kernel.
	h.checkTrampoline()
	cx = h.trapContext(trapCx)
	cx.X = h.X
	cx.Sstatus = h.sstatus
	cx.Sepc = h.sepc
	h.SetSATP(cx.KernelSATP)
	h.FlushTLB()
	h.checkTrampoline()
	h.X[2] = cx.KernelSP
	h.PC = cx.TrapHandler
	return nil
}

// run executes user instructions until a trap.
func (h *Hart) run() (Cause, uint64, error) {
	for {
		if h.cfg.MaxSteps != 0 && h.steps >= h.cfg.MaxSteps {
			return 0, 0, ErrStepLimit
		}
		if h.mtime >= h.mtimecmp {
			return SupervisorTimer, 0, nil
		}
		cause, tval, trapped := h.step()
		h.steps++
		h.mtime += h.cfg.CyclesPerInsn
		if trapped {
			return cause, tval, nil
		}
	}
}
