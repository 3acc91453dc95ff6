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
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func mustPanic(t *testing.T, want string, fn func()) {
	t.Helper()
	defer func() {
		t.Helper()
		r := recover()
		if r == nil {
			t.Fatalf("no panic, want one containing %q", want)
		}
		if s, ok := r.(string); !ok || !strings.Contains(s, want) {
			t.Fatalf("panic %v, want one containing %q", r, want)
		}
	}()
	fn()
}

func noCrash(t *testing.T) func(any) {
	return func(r any) {
		t.Errorf("unexpected crash: %v", r)
	}
}

func TestSwitch(t *testing.T) {
	var trace []string
	idle := idleContext()
	var a, b *TaskContext
	a = newTaskContext(func() {
		trace = append(trace, "a1")
		Switch(a, b)
		trace = append(trace, "a2")
		Switch(nil, idle)
	}, noCrash(t))
	b = newTaskContext(func() {
		trace = append(trace, "b1")
		Switch(b, a)
		trace = append(trace, "b2")
		Switch(b, idle)
		trace = append(trace, "b3")
	}, noCrash(t))

	Switch(idle, a)
	if diff := cmp.Diff([]string{"a1", "b1", "a2"}, trace); diff != "" {
		t.Errorf("trace after first switch (-want +got):\n%s", diff)
	}
	<-a.done

	Switch(idle, b)
	if diff := cmp.Diff([]string{"a1", "b1", "a2", "b2"}, trace); diff != "" {
		t.Errorf("trace after second switch (-want +got):\n%s", diff)
	}

	// b is parked; killing it unwinds without running the rest.
	b.kill()
	if diff := cmp.Diff([]string{"a1", "b1", "a2", "b2"}, trace); diff != "" {
		t.Errorf("trace after kill (-want +got):\n%s", diff)
	}
	a.kill()
	newTaskContext(func() {}, noCrash(t)).kill()
}

func TestSwitchDiscardRunsDeferred(t *testing.T) {
	idle := idleContext()
	released := false
	c := newTaskContext(func() {
		defer func() { released = true }()
		Switch(nil, idle)
	}, noCrash(t))
	Switch(idle, c)
	if !released {
		t.Errorf("deferred call did not run before the next context resumed")
	}
}

func TestSwitchCrash(t *testing.T) {
	idle := idleContext()
	var got any
	c := newTaskContext(func() {
		panic("boom")
	}, func(r any) {
		got = r
		idle.wake()
	})
	Switch(idle, c)
	if got != "boom" {
		t.Errorf("crash value = %v, want boom", got)
	}
}

func TestPIDAllocator(t *testing.T) {
	p := newPIDAllocator()
	var got []uint64
	for range 3 {
		got = append(got, p.alloc())
	}
	p.dealloc(2)
	p.dealloc(1)
	got = append(got, p.alloc(), p.alloc(), p.alloc())
	if diff := cmp.Diff([]uint64{1, 2, 3, 1, 2, 4}, got); diff != "" {
		t.Errorf("pids (-want +got):\n%s", diff)
	}
	if n := p.live(); n != 4 {
		t.Errorf("live() = %d, want 4", n)
	}

	mustPanic(t, "has not been allocated", func() { p.dealloc(5) })
	p.dealloc(4)
	mustPanic(t, "has been deallocated", func() { p.dealloc(4) })
}
