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

package buddy

import (
	"encoding/binary"
	"fmt"
)

// arena is the memory managed by a Heap, addressed by absolute addresses
// starting at base.
type arena struct {
	data []byte
	base uint64
}

// load returns the word stored at addr.
func (a arena) load(addr uint64) uint64 {
	return binary.LittleEndian.Uint64(a.word(addr))
}

// store writes v to the word at addr.
func (a arena) store(addr, v uint64) {
	binary.LittleEndian.PutUint64(a.word(addr), v)
}

func (a arena) word(addr uint64) []byte {
	if addr < a.base || addr-a.base+alignSize > uint64(len(a.data)) {
		panic(fmt.Sprintf("address %#x outside heap arena [%#x, %#x)", addr, a.base, a.base+uint64(len(a.data))))
	}
	off := addr - a.base
	return a.data[off : off+alignSize]
}

// freeList is a singly linked list of free blocks threaded through the
// blocks themselves: the first word of each free block holds the link to the
// next one.
//
// Links are stored as address+1 so that zero means "end of list" and the zero
// freeList is empty.
type freeList struct {
	head uint64
	len  int
}

func (l *freeList) empty() bool {
	return l.head == 0
}

// push inserts the block at addr at the front of the list.
func (l *freeList) push(a arena, addr uint64) {
	a.store(addr, l.head)
	l.head = addr + 1
	l.len++
}

// pop removes and returns the block at the front of the list.
func (l *freeList) pop(a arena) (uint64, bool) {
	if l.head == 0 {
		return 0, false
	}
	addr := l.head - 1
	l.head = a.load(addr)
	l.len--
	return addr, true
}

// remove unlinks the block at addr, returning false if it is not on the
// list.
func (l *freeList) remove(a arena, addr uint64) bool {
	prev := uint64(0)
	for cur := l.head; cur != 0; cur = a.load(cur - 1) {
		if cur-1 != addr {
			prev = cur
			continue
		}
		next := a.load(addr)
		if prev == 0 {
			l.head = next
		} else {
			a.store(prev-1, next)
		}
		l.len--
		return true
	}
	return false
}

// addrs returns the addresses on the list, front first.
func (l *freeList) addrs(a arena) []uint64 {
	var out []uint64
	for cur := l.head; cur != 0; cur = a.load(cur - 1) {
		out = append(out, cur-1)
	}
	return out
}
