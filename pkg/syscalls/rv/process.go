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

package rv

import (
	"gvisor.dev/rvkernel/pkg/abi/riscv"
	"gvisor.dev/rvkernel/pkg/kernel"
	"gvisor.dev/rvkernel/pkg/log"
	"gvisor.dev/rvkernel/pkg/mm"
)

// Exit implements exit(2). It does not return.
func Exit(t *kernel.Task, args kernel.SyscallArguments) int64 {
	t.Kernel().ExitCurrentAndRunNext(args[0].Int())
	panic("unreachable in sys_exit!")
}

// Yield implements sched_yield(2).
func Yield(t *kernel.Task, args kernel.SyscallArguments) int64 {
	t.Kernel().SuspendCurrentAndRunNext()
	return 0
}

// Time returns the machine time in milliseconds.
func Time(t *kernel.Task, args kernel.SyscallArguments) int64 {
	return int64(t.Kernel().TimeMillis())
}

// Getpid implements getpid(2).
func Getpid(t *kernel.Task, args kernel.SyscallArguments) int64 {
	return int64(t.PID())
}

// Shutdown stops the kernel. The caller stays runnable but is never
// scheduled again.
func Shutdown(t *kernel.Task, args kernel.SyscallArguments) int64 {
	k := t.Kernel()
	log.Infof("[kernel] %v requested shutdown", t)
	k.Shutdown()
	k.SuspendCurrentAndRunNext()
	return 0
}

// Fork implements fork(2). The child returns 0.
func Fork(t *kernel.Task, args kernel.SyscallArguments) int64 {
	child, err := t.Fork()
	if err != nil {
		log.Warningf("[kernel] %v", err)
		return -1
	}
	child.TrapContext().X[10] = 0
	pid := child.PID()
	t.Kernel().AddTask(child)
	return int64(pid)
}

// Exec implements execve(2) for a program name with no arguments.
func Exec(t *kernel.Task, args kernel.SyscallArguments) int64 {
	name, err := mm.TranslatedStr(userPageTables(t), args[0].Pointer())
	if err != nil {
		log.Debugf("[kernel] %v exec: %v", t, err)
		return riscv.EXEC_NOT_FOUND
	}
	data, err := t.Kernel().Loader().AppDataByName(name)
	if err != nil {
		log.Debugf("[kernel] %v exec: %v", t, err)
		return riscv.EXEC_NOT_FOUND
	}
	if err := t.Exec(data); err != nil {
		log.Warningf("[kernel] %v exec %q: %v", t, name, err)
		return riscv.EXEC_NOT_FOUND
	}
	return 0
}

// Waitpid implements waitpid(2). pid -1 waits for any child. The exit code
// is stored at the second argument unless it is 0.
func Waitpid(t *kernel.Task, args kernel.SyscallArguments) int64 {
	pid := args[0].Int64()
	addr := args[1].Pointer()

	var store func(int32) error
	if addr != 0 {
		store = func(code int32) error {
			return mm.PutInt32(userPageTables(t), addr, code)
		}
	}
	childPID, res, err := t.WaitChild(pid, store)
	if err != nil {
		log.Debugf("[kernel] %v waitpid: %v", t, err)
		return -1
	}
	switch res {
	case kernel.WaitNoChild:
		return riscv.WAIT_NO_CHILD
	case kernel.WaitRunning:
		return riscv.WAIT_RUNNING
	default:
		return int64(childPID)
	}
}
