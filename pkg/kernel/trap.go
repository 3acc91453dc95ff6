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

package kernel

import (
	"fmt"

	"gvisor.dev/rvkernel/pkg/abi/riscv"
	"gvisor.dev/rvkernel/pkg/hart"
	"gvisor.dev/rvkernel/pkg/sv39"
)

// newTaskContext returns the context of t's kernel thread. It starts by
// returning to user mode and then alternates between handling a trap and
// returning again.
func (k *Kernel) newTaskContext(t *Task) *TaskContext {
	c := newTaskContext(func() {
		for {
			k.trapReturn(t)
			k.trapHandler(t)
		}
	}, k.crash)
	k.track(c)
	return c
}

// trapReturn enters user mode in the current task's address space and
// returns on the next trap.
func (k *Kernel) trapReturn(t *Task) {
	k.setUserTrapEntry()
	if err := k.hart.RunUser(sv39.TrapContext, t.UserToken()); err != nil {
		k.runErr = fmt.Errorf("running %v: %w", t, err)
		k.schedule(nil)
	}
}

func (k *Kernel) setUserTrapEntry() {
	k.hart.SetTrapVector(uint64(sv39.Trampoline))
}

func (k *Kernel) setKernelTrapEntry() {
	k.hart.SetTrapVector(k.layout.trapFromKernel)
}

// trapHandler handles the trap that ended the last trapReturn.
func (k *Kernel) trapHandler(t *Task) {
	k.setKernelTrapEntry()
	if k.hart.PC != k.layout.trapHandler {
		panic(fmt.Sprintf("trap entered at %#x, not the trap handler", k.hart.PC))
	}
	if sp := k.hart.X[2]; sp != uint64(t.kstack.top()) {
		panic(fmt.Sprintf("trap entered with sp %#x, not the top of the kernel stack of %v", sp, t))
	}

	cause, stval := k.hart.Cause(), k.hart.TrapValue()
	switch cause {
	case hart.UserEnvCall:
		cx := t.TrapContext()
		cx.Sepc += 4
		args := SyscallArguments{{cx.X[10]}, {cx.X[11]}, {cx.X[12]}}
		ret := k.syscall(t, uintptr(cx.X[17]), args)
		// exec replaces the trap context.
		cx = t.TrapContext()
		cx.X[10] = uint64(ret)

	case hart.StoreFault, hart.StorePageFault,
		hart.LoadFault, hart.LoadPageFault,
		hart.InstructionFault, hart.InstructionPageFault,
		hart.InstructionMisaligned, hart.LoadMisaligned, hart.StoreMisaligned:
		k.faultLog.Warningf("[kernel] %v in application, bad addr = %#x, bad instruction = %#x, kernel killed it.", cause, stval, t.TrapContext().Sepc)
		k.ExitCurrentAndRunNext(riscv.EXIT_MEMORY_FAULT)

	case hart.IllegalInstruction:
		k.faultLog.Warningf("[kernel] IllegalInstruction in application, kernel killed it.")
		k.ExitCurrentAndRunNext(riscv.EXIT_ILLEGAL_INSTRUCTION)

	case hart.SupervisorTimer:
		k.setNextTrigger()
		k.SuspendCurrentAndRunNext()

	default:
		panic(fmt.Sprintf("Unsupported trap %v, stval = %#x!", cause, stval))
	}
}

// setNextTrigger arms the timer for the next scheduling tick.
func (k *Kernel) setNextTrigger() {
	k.hart.SetTimer(k.hart.Time() + k.conf.ClockFreq/k.conf.TickHz)
}

// TimeMillis returns the machine time in milliseconds.
func (k *Kernel) TimeMillis() uint64 {
	return k.hart.Time() / (k.conf.ClockFreq / 1000)
}
