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

// TaskContext is the kernel execution state saved when a task is switched
// out. Each task's kernel thread of control runs on its own goroutine; a
// switch wakes the goroutine of the next context and parks the current one,
// so exactly one of them runs at a time.
//
// A fresh context has not started yet: the first switch to it starts entry,
// which for a task is the return-to-user loop.
type TaskContext struct {
	// entry is run by the context's goroutine.
	entry func()

	// resume wakes the parked goroutine. false kills it.
	resume chan bool

	// started is set once the goroutine exists.
	started bool

	// done is closed when the goroutine exits.
	done chan struct{}

	// crash is called with any panic that escapes entry.
	crash func(r any)
}

// discarded unwinds the goroutine of a context that will never run again,
// after which the next context is woken.
type discarded struct {
	next *TaskContext
}

// killed unwinds a parked goroutine whose context is torn down.
type killed struct{}

func newTaskContext(entry func(), crash func(r any)) *TaskContext {
	return &TaskContext{
		entry:  entry,
		resume: make(chan bool, 1),
		done:   make(chan struct{}),
		crash:  crash,
	}
}

// idleContext returns the context of the calling goroutine, which is already
// running.
func idleContext() *TaskContext {
	return &TaskContext{
		resume:  make(chan bool, 1),
		started: true,
		done:    make(chan struct{}),
	}
}

func (c *TaskContext) run() {
	defer func() {
		r := recover()
		close(c.done)
		switch r := r.(type) {
		case discarded:
			r.next.wake()
		case killed:
		default:
			if r == nil {
				r = "task context returned"
			}
			c.crash(r)
		}
	}()
	c.entry()
}

func (c *TaskContext) wake() {
	if !c.started {
		c.started = true
		go c.run()
		return
	}
	c.resume <- true
}

// kill stops a parked context and waits for its goroutine to exit.
func (c *TaskContext) kill() {
	if !c.started {
		return
	}
	select {
	case <-c.done:
		return
	default:
	}
	c.resume <- false
	<-c.done
}

// Switch saves the running state into cur and resumes next. It returns when
// cur is next switched to.
//
// If cur is nil the running context is discarded: Switch unwinds the calling
// goroutine, running its deferred calls, and never returns.
func Switch(cur, next *TaskContext) {
	if cur == nil {
		panic(discarded{next: next})
	}
	next.wake()
	if !<-cur.resume {
		panic(killed{})
	}
}
