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

// Package riscv contains the constants of the kernel's user ABI: system call
// numbers, reserved exit codes and return sentinels.
package riscv

// System call numbers, passed in a7. Arguments are in a0 through a2 and the
// result is returned in a0.
const (
	SYS_READ     = 63
	SYS_WRITE    = 64
	SYS_EXIT     = 93
	SYS_YIELD    = 124
	SYS_TIME     = 169
	SYS_GETPID   = 172
	SYS_SHUTDOWN = 216
	SYS_LS       = 217
	SYS_FORK     = 220
	SYS_EXEC     = 221
	SYS_WAITPID  = 260
)

// Standard file descriptors. They are the only ones that exist.
const (
	FD_STDIN  = 0
	FD_STDOUT = 1
)

// Exit codes the kernel assigns to tasks it kills.
const (
	// EXIT_MEMORY_FAULT is the exit code of a task killed by a page fault,
	// access fault or misaligned access.
	EXIT_MEMORY_FAULT = -2

	// EXIT_ILLEGAL_INSTRUCTION is the exit code of a task killed by an
	// illegal instruction.
	EXIT_ILLEGAL_INSTRUCTION = -3
)

// Return values of waitpid and exec.
const (
	// WAIT_NO_CHILD means the caller has no child matching the pid.
	WAIT_NO_CHILD = -1

	// WAIT_RUNNING means a matching child exists but has not exited.
	WAIT_RUNNING = -2

	// WAIT_ANY waits for any child.
	WAIT_ANY = -1

	// EXEC_NOT_FOUND is returned by exec for an unknown program name.
	EXEC_NOT_FOUND = -1
)
