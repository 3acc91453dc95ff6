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

// SstatusSPP is the sstatus bit recording the privilege a trap came from:
// set for supervisor, clear for user.
const SstatusSPP = 1 << 8

// SstatusSPIE is the sstatus bit holding the interrupt enable to restore on
// sret.
const SstatusSPIE = 1 << 5

// TrapContext is the layout of the trap context page that the trampoline
// saves user registers into and restores them from.
//
// KernelSATP, KernelSP and TrapHandler are written when a task is created or
// execs, and only read on the trap path.
type TrapContext struct {
	// X holds the general purpose registers x0 through x31.
	X [32]uint64

	// Sstatus is the saved supervisor status register.
	Sstatus uint64

	// Sepc is the user program counter to resume at.
	Sepc uint64

	// KernelSATP selects the kernel page table on trap entry.
	KernelSATP uint64

	// KernelSP is the top of the task's kernel stack.
	KernelSP uint64

	// TrapHandler is the kernel address trap entry jumps to.
	TrapHandler uint64
}

// SetSP sets the user stack pointer.
func (c *TrapContext) SetSP(sp uint64) {
	c.X[2] = sp
}

// AppInitContext returns the trap context that starts a user program at
// entry with stack pointer sp.
func AppInitContext(entry, sp, kernelSATP, kernelSP, trapHandler uint64) TrapContext {
	c := TrapContext{
		// Return to user mode with interrupts enabled.
		Sstatus:     SstatusSPIE,
		Sepc:        entry,
		KernelSATP:  kernelSATP,
		KernelSP:    kernelSP,
		TrapHandler: trapHandler,
	}
	c.SetSP(sp)
	return c
}
