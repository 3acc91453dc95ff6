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

// Package userprog builds the user programs linked into the kernel.
//
// Programs are assembled at first use with rvasm. They talk to the kernel
// only through the system calls in abi/riscv.
package userprog

import (
	abi "gvisor.dev/rvkernel/pkg/abi/riscv"
	"gvisor.dev/rvkernel/pkg/loader"
	"gvisor.dev/rvkernel/pkg/rvasm"
	"gvisor.dev/rvkernel/pkg/sync"
)

// Program names.
const (
	InitProc  = "initproc"
	UserTests = "usertests"
	Hello     = "hello"
	Echo      = "echo"
	Exit42    = "exit42"
	Child     = "child"
	ForkExec  = "forkexec"
	WaitPid   = "waitpid"
	GetPid    = "getpid"
	Time      = "time"
	SegFault  = "segv"
	Illegal   = "illegal"
	SpinA     = "spin_a"
	SpinB     = "spin_b"
	Preempt   = "preempt"
	Ls        = "ls"
	Orphan    = "orphan"
	Reaper    = "reaper"
)

// Missing is a program name the loader does not serve.
const Missing = "no_such_program"

// OrphanExitCode is the exit code of Orphan when exec of Missing fails as
// it should.
const OrphanExitCode = 3

// ChildExitCode is the exit code of Child, and so of ForkExec.
const ChildExitCode = 7

// SpinIterations is how many characters each spin program writes.
const SpinIterations = 20

const (
	zero = rvasm.Zero
	a0   = rvasm.A0
	a1   = rvasm.A1
	s0   = rvasm.S0
	s1   = rvasm.S1
	s2   = rvasm.S2
	t0   = rvasm.T0
	t1   = rvasm.T1
	t2   = rvasm.T2
)

// test is one usertests case.
type test struct {
	name string
	code int64
}

var userTests = []test{
	{Hello, 0},
	{Exit42, 42},
	{ForkExec, ChildExitCode},
	{Time, 0},
	{SegFault, abi.EXIT_MEMORY_FAULT},
	{Illegal, abi.EXIT_ILLEGAL_INSTRUCTION},
	{Preempt, 0},
}

// initProc runs usertests and reaps every orphan. It shuts the machine down
// once it has no children left.
func initProc() []byte {
	b := newBuilder()
	b.Space("code", 8)
	b.fork()
	b.BNEZ(a0, "parent")
	b.exec(UserTests)

	b.Label("parent")
	b.Label("loop")
	b.LI(a0, abi.WAIT_ANY)
	b.LA(a1, "code")
	b.Syscall(abi.SYS_WAITPID)
	b.LI(t0, abi.WAIT_NO_CHILD)
	b.BEQ(a0, t0, "done")
	b.LI(t0, abi.WAIT_RUNNING)
	b.BNE(a0, t0, "loop")
	b.yield()
	b.J("loop")

	b.Label("done")
	b.Syscall(abi.SYS_SHUTDOWN)
	b.exit(0)
	return b.link()
}

// userTestsProg runs each test in a child and checks its exit code. It exits
// with the number of failures.
func userTestsProg() []byte {
	b := newBuilder()
	b.Space("code", 8)
	b.LI(s1, 0)
	for _, tc := range userTests {
		fail, next := b.local("fail"), b.local("next")
		b.puts("Usertests: Running " + tc.name + "\n")
		b.spawn(tc.name, s0)
		b.wait(s0, "code")
		b.LA(t1, "code")
		b.LW(t1, t1, 0)
		b.LI(t2, tc.code)
		b.BNE(t1, t2, fail)
		b.puts("Usertests: Test " + tc.name + " passed!\n")
		b.J(next)
		b.Label(fail)
		b.puts("Usertests: Test " + tc.name + " FAILED!\n")
		b.ADDI(s1, s1, 1)
		b.Label(next)
	}
	b.BNEZ(s1, "failed")
	b.puts("Usertests passed!\n")
	b.exit(0)
	b.Label("failed")
	b.puts("Usertests failed!\n")
	b.exitReg(s1)
	return b.link()
}

func hello() []byte {
	b := newBuilder()
	b.puts("Hello, world!\n")
	b.exit(0)
	return b.link()
}

// echo copies stdin to stdout up to and including the first newline.
func echo() []byte {
	b := newBuilder()
	b.Space("buf", 8)
	b.Label("loop")
	b.LI(a0, abi.FD_STDIN)
	b.LA(a1, "buf")
	b.LI(rvasm.A2, 1)
	b.Syscall(abi.SYS_READ)
	b.LA(t0, "buf")
	b.LBU(s0, t0, 0)
	b.putc(s0, "buf")
	b.LI(t1, '\n')
	b.BNE(s0, t1, "loop")
	b.exit(0)
	return b.link()
}

func exit42() []byte {
	b := newBuilder()
	b.exit(42)
	return b.link()
}

// child yields a few times so that its parent observes it running, then
// exits with ChildExitCode.
func child() []byte {
	b := newBuilder()
	b.LI(s0, 3)
	b.Label("loop")
	b.yield()
	b.ADDI(s0, s0, -1)
	b.BNEZ(s0, "loop")
	b.puts("child: exiting\n")
	b.exit(ChildExitCode)
	return b.link()
}

// forkExec runs child, printing a dot each time waitpid reports it still
// running, and exits with the child's exit code.
func forkExec() []byte {
	b := newBuilder()
	b.Space("code", 8)
	b.Space("dot", 8)
	b.spawn(Child, s0)
	b.Label("loop")
	b.MV(a0, s0)
	b.LA(a1, "code")
	b.Syscall(abi.SYS_WAITPID)
	b.LI(t0, abi.WAIT_RUNNING)
	b.BNE(a0, t0, "done")
	b.LI(s1, '.')
	b.putc(s1, "dot")
	b.yield()
	b.J("loop")

	b.Label("done")
	b.BNE(a0, s0, "bad")
	b.puts("\nforkexec: child exited\n")
	b.LA(t1, "code")
	b.LW(t1, t1, 0)
	b.exitReg(t1)
	b.Label("bad")
	b.puts("\nforkexec: waitpid returned the wrong pid\n")
	b.exit(-1)
	return b.link()
}

// waitPid runs echo and exit42 side by side. Collecting exit42 must report
// its pid and code 42, and waiting for it again must fail.
func waitPid() []byte {
	b := newBuilder()
	b.Space("code", 8)
	b.spawn(Echo, s0)
	b.spawn(Exit42, s1)

	b.wait(s1, "code")
	b.BNE(a0, s1, "fail")
	b.LA(t1, "code")
	b.LW(t1, t1, 0)
	b.LI(t2, 42)
	b.BNE(t1, t2, "fail")

	b.MV(a0, s1)
	b.LA(a1, "code")
	b.Syscall(abi.SYS_WAITPID)
	b.LI(t0, abi.WAIT_NO_CHILD)
	b.BNE(a0, t0, "fail")

	b.wait(s0, "code")
	b.BNE(a0, s0, "fail")
	b.puts("waitpid passed!\n")
	b.exit(0)
	b.Label("fail")
	b.puts("waitpid FAILED!\n")
	b.exit(1)
	return b.link()
}

func getPid() []byte {
	b := newBuilder()
	b.Syscall(abi.SYS_GETPID)
	b.exitReg(a0)
	return b.link()
}

// timeProg yields until the clock has advanced by at least one millisecond.
func timeProg() []byte {
	b := newBuilder()
	b.Syscall(abi.SYS_TIME)
	b.MV(s0, a0)
	b.Label("loop")
	b.yield()
	b.Syscall(abi.SYS_TIME)
	b.BLTU(a0, s0, "bad")
	b.SUB(t0, a0, s0)
	b.BEQZ(t0, "loop")
	b.puts("time passed!\n")
	b.exit(0)
	b.Label("bad")
	b.puts("time went backwards\n")
	b.exit(1)
	return b.link()
}

func segFault() []byte {
	b := newBuilder()
	b.puts("Into Test store_fault, we will insert an invalid store operation...\n")
	b.puts("Kernel should kill this application!\n")
	b.SD(zero, zero, 0)
	b.exit(0)
	return b.link()
}

func illegal() []byte {
	b := newBuilder()
	b.puts("Into Test illegal instruction, the kernel should kill this application!\n")
	b.Word(0)
	b.exit(0)
	return b.link()
}

// spin writes c SpinIterations times with a long computation between writes
// and never yields.
func spin(c byte) []byte {
	b := newBuilder()
	b.Space("buf", 8)
	b.LI(s0, SpinIterations)
	b.LI(s2, int64(c))
	b.Label("outer")
	b.LI(t0, 5000)
	b.Label("inner")
	b.ADDI(t0, t0, -1)
	b.BNEZ(t0, "inner")
	b.putc(s2, "buf")
	b.ADDI(s0, s0, -1)
	b.BNEZ(s0, "outer")
	b.exit(0)
	return b.link()
}

// preempt runs both spin programs and waits for them.
func preempt() []byte {
	b := newBuilder()
	b.Space("code", 8)
	b.spawn(SpinA, s0)
	b.spawn(SpinB, s1)
	b.wait(s0, "code")
	b.wait(s1, "code")
	b.exit(0)
	return b.link()
}

// ls lists the loadable programs.
func ls() []byte {
	b := newBuilder()
	b.Syscall(abi.SYS_LS)
	b.exitReg(a0)
	return b.link()
}

// orphan starts Child and exits without waiting for it, leaving the child
// to be reparented. Before exiting it checks that exec of Missing fails.
func orphan() []byte {
	b := newBuilder()
	b.spawn(Child, s0)
	b.String("missing", Missing)
	b.LA(a0, "missing")
	b.Syscall(abi.SYS_EXEC)
	b.LI(t0, abi.EXEC_NOT_FOUND)
	b.BNE(a0, t0, "bad")
	b.exit(OrphanExitCode)
	b.Label("bad")
	b.puts("orphan: exec of a missing program did not fail\n")
	b.exit(1)
	return b.link()
}

// reaper runs Orphan and reaps children until it has none left, including
// those reparented to it. It exits with the sum of their exit codes.
func reaper() []byte {
	b := newBuilder()
	b.Space("code", 8)
	b.spawn(Orphan, s0)
	b.LI(s2, 0)
	b.Label("loop")
	b.LI(a0, abi.WAIT_ANY)
	b.LA(a1, "code")
	b.Syscall(abi.SYS_WAITPID)
	b.LI(t0, abi.WAIT_NO_CHILD)
	b.BEQ(a0, t0, "done")
	b.LI(t0, abi.WAIT_RUNNING)
	b.BNE(a0, t0, "reaped")
	b.yield()
	b.J("loop")
	b.Label("reaped")
	b.LA(t1, "code")
	b.LW(t1, t1, 0)
	b.ADD(s2, s2, t1)
	b.J("loop")
	b.Label("done")
	b.exitReg(s2)
	return b.link()
}

// Programs returns the images of every built-in program by name.
var Programs = sync.OnceValue(func() map[string][]byte {
	return map[string][]byte{
		InitProc:  initProc(),
		UserTests: userTestsProg(),
		Hello:     hello(),
		Echo:      echo(),
		Exit42:    exit42(),
		Child:     child(),
		ForkExec:  forkExec(),
		WaitPid:   waitPid(),
		GetPid:    getPid(),
		Time:      timeProg(),
		SegFault:  segFault(),
		Illegal:   illegal(),
		SpinA:     spin('a'),
		SpinB:     spin('b'),
		Preempt:   preempt(),
		Ls:        ls(),
		Orphan:    orphan(),
		Reaper:    reaper(),
	}
})

// NewLoader returns a loader serving the built-in programs.
func NewLoader() *loader.Loader {
	return loader.New(Programs())
}
