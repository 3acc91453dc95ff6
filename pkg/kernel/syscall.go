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

	"gvisor.dev/rvkernel/pkg/log"
	"gvisor.dev/rvkernel/pkg/sv39"
)

// SyscallArgument is an argument to a system call, as passed in a register.
type SyscallArgument struct {
	// Value is the raw register value.
	Value uint64
}

// SyscallArguments are the arguments to a system call, a0 through a2.
type SyscallArguments [3]SyscallArgument

// Pointer returns the user address.
func (a SyscallArgument) Pointer() sv39.VirtAddr {
	return sv39.VirtAddr(a.Value)
}

// Int returns the int32 representation of a 64-bit value.
func (a SyscallArgument) Int() int32 {
	return int32(a.Value)
}

// Int64 returns the int64 representation of a 64-bit value.
func (a SyscallArgument) Int64() int64 {
	return int64(a.Value)
}

// Uint64 returns the uint64 representation of a 64-bit value.
func (a SyscallArgument) Uint64() uint64 {
	return a.Value
}

// SyscallFn is a syscall implementation. Its result is stored in a0.
type SyscallFn func(t *Task, args SyscallArguments) int64

// Syscall describes a system call.
type Syscall struct {
	// Name is the syscall name.
	Name string

	// Fn is the implementation.
	Fn SyscallFn
}

// SyscallTable maps syscall numbers to implementations.
type SyscallTable struct {
	// Table is the collection of functions.
	Table map[uintptr]Syscall
}

// Lookup returns the syscall with the given number.
func (s *SyscallTable) Lookup(sysno uintptr) (Syscall, bool) {
	sc, ok := s.Table[sysno]
	return sc, ok && sc.Fn != nil
}

// syscall dispatches a system call of t.
func (k *Kernel) syscall(t *Task, sysno uintptr, args SyscallArguments) int64 {
	sc, ok := k.opts.Syscalls.Lookup(sysno)
	if !ok {
		panic(fmt.Sprintf("Unsupported syscall_id: %d", sysno))
	}
	if log.IsLogging(log.Debug) {
		log.Debugf("[kernel] %v %s(%#x, %#x, %#x)", t, sc.Name, args[0].Value, args[1].Value, args[2].Value)
	}
	return sc.Fn(t, args)
}
