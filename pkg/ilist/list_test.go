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

package ilist

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

type testEntry struct {
	Entry[*testEntry]
	value int
}

func values(l *List[*testEntry]) []int {
	var vs []int
	for e := l.Front(); e != nil; e = e.Next() {
		vs = append(vs, e.value)
	}
	return vs
}

func TestPushPop(t *testing.T) {
	var l List[*testEntry]
	if !l.Empty() {
		t.Fatalf("zero list is not empty")
	}
	es := []*testEntry{{value: 1}, {value: 2}, {value: 3}}
	for _, e := range es {
		l.PushBack(e)
	}
	l.PushFront(&testEntry{value: 0})

	if diff := cmp.Diff([]int{0, 1, 2, 3}, values(&l)); diff != "" {
		t.Errorf("list mismatch (-want +got):\n%s", diff)
	}
	if got := l.Len(); got != 4 {
		t.Errorf("Len() = %d, want 4", got)
	}

	var popped []int
	for {
		e, ok := l.PopFront()
		if !ok {
			break
		}
		popped = append(popped, e.value)
	}
	if diff := cmp.Diff([]int{0, 1, 2, 3}, popped); diff != "" {
		t.Errorf("pop order mismatch (-want +got):\n%s", diff)
	}
	if !l.Empty() {
		t.Errorf("list not empty after popping everything")
	}
}

func TestRemoveMiddleAndEnds(t *testing.T) {
	var l List[*testEntry]
	es := make([]*testEntry, 5)
	for i := range es {
		es[i] = &testEntry{value: i}
		l.PushBack(es[i])
	}
	l.Remove(es[2])
	l.Remove(es[0])
	l.Remove(es[4])
	if diff := cmp.Diff([]int{1, 3}, values(&l)); diff != "" {
		t.Errorf("list mismatch (-want +got):\n%s", diff)
	}
	if l.Front() != es[1] || l.Back() != es[3] {
		t.Errorf("Front/Back = %v/%v, want 1/3", l.Front().value, l.Back().value)
	}
}

func TestPushBackList(t *testing.T) {
	var a, b List[*testEntry]
	a.PushBack(&testEntry{value: 1})
	b.PushBack(&testEntry{value: 2})
	b.PushBack(&testEntry{value: 3})
	a.PushBackList(&b)
	if diff := cmp.Diff([]int{1, 2, 3}, values(&a)); diff != "" {
		t.Errorf("list mismatch (-want +got):\n%s", diff)
	}
	if !b.Empty() {
		t.Errorf("source list not emptied")
	}
}
