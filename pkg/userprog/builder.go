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

package userprog

import (
	"fmt"

	abi "gvisor.dev/rvkernel/pkg/abi/riscv"
	"gvisor.dev/rvkernel/pkg/rvasm"
)

// builder wraps an assembler with the user library: system call stubs and
// unique label generation.
type builder struct {
	*rvasm.Assembler
	n int
}

func newBuilder() *builder {
	b := &builder{Assembler: rvasm.New()}
	b.Label(rvasm.EntryLabel)
	return b
}

// local returns a fresh label.
func (b *builder) local(prefix string) string {
	b.n++
	return fmt.Sprintf(".L%s%d", prefix, b.n)
}

// puts writes s to stdout.
func (b *builder) puts(s string) {
	l := b.local("str")
	b.String(l, s)
	b.LI(rvasm.A0, abi.FD_STDOUT)
	b.LA(rvasm.A1, l)
	b.LI(rvasm.A2, int64(len(s)))
	b.Syscall(abi.SYS_WRITE)
}

// putc writes the low byte of r to stdout using the one byte scratch buffer
// at label buf.
func (b *builder) putc(r rvasm.Reg, buf string) {
	b.LA(rvasm.A1, buf)
	b.SB(r, rvasm.A1, 0)
	b.LI(rvasm.A0, abi.FD_STDOUT)
	b.LI(rvasm.A2, 1)
	b.Syscall(abi.SYS_WRITE)
}

// exit exits with code.
func (b *builder) exit(code int64) {
	b.LI(rvasm.A0, code)
	b.Syscall(abi.SYS_EXIT)
}

// exitReg exits with the value of r.
func (b *builder) exitReg(r rvasm.Reg) {
	b.MV(rvasm.A0, r)
	b.Syscall(abi.SYS_EXIT)
}

func (b *builder) yield() {
	b.Syscall(abi.SYS_YIELD)
}

// fork leaves the result in a0.
func (b *builder) fork() {
	b.Syscall(abi.SYS_FORK)
}

// exec replaces the image with the named program. If exec returns, the
// program exits with code -1.
func (b *builder) exec(name string) {
	l := b.local("path")
	b.String(l, name)
	b.LA(rvasm.A0, l)
	b.Syscall(abi.SYS_EXEC)
	b.exit(-1)
}

// spawn forks a child that execs name and leaves the child's pid in r.
func (b *builder) spawn(name string, r rvasm.Reg) {
	parent := b.local("parent")
	b.fork()
	b.BNEZ(rvasm.A0, parent)
	b.exec(name)
	b.Label(parent)
	b.MV(r, rvasm.A0)
}

// wait waits for the child pid in r, yielding while it runs, and leaves the
// waitpid result in a0 and the exit code in the word at code.
func (b *builder) wait(r rvasm.Reg, code string) {
	loop, done := b.local("wait"), b.local("waited")
	b.Label(loop)
	b.MV(rvasm.A0, r)
	b.LA(rvasm.A1, code)
	b.Syscall(abi.SYS_WAITPID)
	b.LI(rvasm.T0, abi.WAIT_RUNNING)
	b.BNE(rvasm.A0, rvasm.T0, done)
	b.yield()
	b.J(loop)
	b.Label(done)
}

func (b *builder) link() []byte {
	p, err := b.Link()
	if err != nil {
		panic(fmt.Sprintf("linking built-in program: %v", err))
	}
	return p.ELF()
}
