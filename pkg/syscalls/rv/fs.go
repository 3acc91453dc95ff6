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
	"fmt"

	"gvisor.dev/rvkernel/pkg/abi/riscv"
	"gvisor.dev/rvkernel/pkg/kernel"
	"gvisor.dev/rvkernel/pkg/log"
	"gvisor.dev/rvkernel/pkg/mm"
	"gvisor.dev/rvkernel/pkg/sv39"
)

// writeChunk is the largest piece of user data staged in the kernel heap at
// once.
const writeChunk = sv39.PageSize

// Write implements write(2) for standard output.
func Write(t *kernel.Task, args kernel.SyscallArguments) int64 {
	fd := args[0].Int64()
	addr := args[1].Pointer()
	size := args[2].Uint64()
	if fd != riscv.FD_STDOUT {
		panic(fmt.Sprintf("Unsupported fd in sys_write: %d", fd))
	}

	bufs, err := mm.TranslatedByteBuffer(userPageTables(t), addr, size, false)
	if err != nil {
		log.Debugf("[kernel] %v write: %v", t, err)
		return -1
	}
	k := t.Kernel()
	for _, b := range bufs {
		for len(b) > 0 {
			n := min(len(b), writeChunk)
			if err := k.WithKernelBuffer(uint64(n), func(kb []byte) {
				copy(kb, b[:n])
				if _, err := k.Console().Write(kb); err != nil {
					log.Warningf("[kernel] console write: %v", err)
				}
			}); err != nil {
				panic(fmt.Sprintf("sys_write: %v", err))
			}
			b = b[n:]
		}
	}
	return int64(size)
}

// Read implements read(2) of one byte from standard input. It yields until
// the console has input.
func Read(t *kernel.Task, args kernel.SyscallArguments) int64 {
	fd := args[0].Int64()
	addr := args[1].Pointer()
	size := args[2].Uint64()
	if fd != riscv.FD_STDIN {
		panic(fmt.Sprintf("Unsupported fd in sys_read: %d", fd))
	}
	if size != 1 {
		panic(fmt.Sprintf("Only support len = 1 in sys_read, got %d", size))
	}
	if _, err := mm.TranslatedByteBuffer(userPageTables(t), addr, 1, true); err != nil {
		log.Debugf("[kernel] %v read: %v", t, err)
		return -1
	}

	k := t.Kernel()
	var c byte
	for {
		if c = k.Console().Getchar(); c != 0 {
			break
		}
		k.SuspendCurrentAndRunNext()
	}
	if err := mm.CopyOut(userPageTables(t), addr, []byte{c}); err != nil {
		return -1
	}
	return 1
}

// Ls writes the names of the loadable programs to the console, one per
// line.
func Ls(t *kernel.Task, args kernel.SyscallArguments) int64 {
	k := t.Kernel()
	for _, name := range k.Loader().Names() {
		fmt.Fprintln(k.Console(), name)
	}
	return 0
}
