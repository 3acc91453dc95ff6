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

// Package rv implements the system calls of the RV64 kernel ABI.
package rv

import (
	"gvisor.dev/rvkernel/pkg/abi/riscv"
	"gvisor.dev/rvkernel/pkg/kernel"
	"gvisor.dev/rvkernel/pkg/pagetables"
)

// RV64 is the system call table.
var RV64 = &kernel.SyscallTable{
	Table: map[uintptr]kernel.Syscall{
		riscv.SYS_READ:     {Name: "read", Fn: Read},
		riscv.SYS_WRITE:    {Name: "write", Fn: Write},
		riscv.SYS_EXIT:     {Name: "exit", Fn: Exit},
		riscv.SYS_YIELD:    {Name: "yield", Fn: Yield},
		riscv.SYS_TIME:     {Name: "time", Fn: Time},
		riscv.SYS_GETPID:   {Name: "getpid", Fn: Getpid},
		riscv.SYS_SHUTDOWN: {Name: "shutdown", Fn: Shutdown},
		riscv.SYS_LS:       {Name: "ls", Fn: Ls},
		riscv.SYS_FORK:     {Name: "fork", Fn: Fork},
		riscv.SYS_EXEC:     {Name: "exec", Fn: Exec},
		riscv.SYS_WAITPID:  {Name: "waitpid", Fn: Waitpid},
	},
}

// userPageTables returns a view of t's page table.
func userPageTables(t *kernel.Task) *pagetables.PageTables {
	return pagetables.FromToken(t.Kernel().Mem(), t.UserToken())
}
