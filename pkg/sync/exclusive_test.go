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

package sync

import (
	"strings"
	"testing"
)

func mustPanic(t *testing.T, want string, fn func()) {
	t.Helper()
	defer func() {
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

func TestBorrowRelease(t *testing.T) {
	c := NewExclusiveCell(1)
	v := c.Borrow()
	*v = 2
	if !c.Borrowed() {
		t.Errorf("Borrowed() = false during a borrow")
	}
	c.Release()
	if c.Borrowed() {
		t.Errorf("Borrowed() = true after Release")
	}
	if got := Get(c, func(v *int) int { return *v }); got != 2 {
		t.Errorf("value = %d, want 2", got)
	}
}

func TestDoubleBorrowPanics(t *testing.T) {
	var c ExclusiveCell[[]int]
	c.Borrow()
	mustPanic(t, "BorrowMutError", func() { c.Borrow() })
}

func TestTryBorrow(t *testing.T) {
	var c ExclusiveCell[int]
	if _, ok := c.TryBorrow(); !ok {
		t.Fatalf("first TryBorrow failed")
	}
	if _, ok := c.TryBorrow(); ok {
		t.Errorf("second TryBorrow succeeded")
	}
	c.Release()
	c.With(func(v *int) { *v = 7 })
	if got := Get(&c, func(v *int) int { return *v }); got != 7 {
		t.Errorf("value = %d, want 7", got)
	}
}

func TestReleaseWithoutBorrowPanics(t *testing.T) {
	var c ExclusiveCell[int]
	mustPanic(t, "without a borrow", c.Release)
}
