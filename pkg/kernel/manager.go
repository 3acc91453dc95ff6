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
	"gvisor.dev/rvkernel/pkg/ilist"
	"gvisor.dev/rvkernel/pkg/log"
	"gvisor.dev/rvkernel/pkg/sync"
)

// taskManager is the FIFO ready queue.
type taskManager struct {
	ready ilist.List[*Task]
}

// AddTask queues a Ready task, taking over the caller's reference.
func (k *Kernel) AddTask(t *Task) {
	m := k.manager.Borrow()
	m.ready.PushBack(t)
	k.manager.Release()
}

// fetchTask dequeues the task that has waited longest, with its reference.
func (k *Kernel) fetchTask() (*Task, bool) {
	m := k.manager.Borrow()
	defer k.manager.Release()
	return m.ready.PopFront()
}

// ReadyTasks returns the number of queued tasks.
func (k *Kernel) ReadyTasks() int {
	return sync.Get(k.manager, func(m *taskManager) int { return m.ready.Len() })
}

// processor is the state of the single hart as the scheduler sees it.
type processor struct {
	// current is the running task. The processor holds a reference on it.
	current *Task
}

// takeCurrent removes the running task from the processor, with its
// reference.
func (k *Kernel) takeCurrent() *Task {
	p := k.processor.Borrow()
	defer k.processor.Release()
	t := p.current
	p.current = nil
	return t
}

// CurrentTask returns the running task, or nil. It does not take a
// reference; the processor's keeps the task alive while it runs.
func (k *Kernel) CurrentTask() *Task {
	return sync.Get(k.processor, func(p *processor) *Task { return p.current })
}

// schedule switches from cur to the scheduler loop. A nil cur discards the
// running context.
func (k *Kernel) schedule(cur *TaskContext) {
	Switch(cur, k.idle)
}

// SuspendCurrentAndRunNext puts the running task back on the ready queue
// and switches away from it. It returns when the task is next scheduled.
func (k *Kernel) SuspendCurrentAndRunNext() {
	t := k.takeCurrent()
	in := t.inner.Borrow()
	cx := in.taskCx
	in.status = Ready
	t.inner.Release()

	k.AddTask(t)
	k.schedule(cx)
}

// ExitCurrentAndRunNext turns the running task into a Zombie with the given
// exit code, hands its children to initproc and switches away for good.
func (k *Kernel) ExitCurrentAndRunNext(code int32) {
	t := k.takeCurrent()
	log.Infof("[kernel] Application exited with code %d", code)
	if k.opts.OnExit != nil {
		k.opts.OnExit(t.PID(), code)
	}

	in := t.inner.Borrow()
	in.status = Zombie
	in.exitCode = code
	children := in.children
	in.children = nil
	in.memorySet.RecycleDataPages()
	t.inner.Release()

	if t == k.initproc {
		// Nobody is left to reap them.
		for _, c := range children {
			c.setParent(nil)
			c.DecRef()
		}
	} else {
		for _, c := range children {
			c.setParent(k.initproc)
		}
		in := k.initproc.inner.Borrow()
		in.children = append(in.children, children...)
		k.initproc.inner.Release()
	}

	t.DecRef()
	k.schedule(nil)
}
