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
	"errors"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const testBase = 0x80400000

func newTestHeap(t *testing.T, size uint64) *Heap {
	t.Helper()
	return New(make([]byte, size), testBase)
}

func singleBlock(order int) [MaxOrder]int {
	var want [MaxOrder]int
	want[order] = 1
	return want
}

func testBlockSize(size uint64) uint64 {
	n, ok := blockSize(size, 8)
	if !ok {
		panic("no size class")
	}
	return n
}

func TestAddToHeapUnalignedRange(t *testing.T) {
	h := &Heap{arena: arena{data: make([]byte, 0x100), base: 0x1000}}
	// Alignment trims the range to [0x1008, 0x10f8).
	h.AddToHeap(0x1004, 0x10fc)
	if got, want := h.Total(), uint64(0xf0); got != want {
		t.Errorf("Total() = %#x, want %#x", got, want)
	}
	// 0x1008 is 8-aligned, so blocks grow: 8, 0x10, 0x20, 0x40, then
	// shrink to fit the tail: 0x40, 0x20, 0x10, 8.
	var want [MaxOrder]int
	want[3], want[4], want[5], want[6] = 2, 2, 2, 2
	if diff := cmp.Diff(want, h.FreeBlocks()); diff != "" {
		t.Errorf("FreeBlocks mismatch (-want +got):\n%s", diff)
	}
}

func TestSplitAndCoalesce(t *testing.T) {
	h := newTestHeap(t, 1<<12)
	if diff := cmp.Diff(singleBlock(12), h.FreeBlocks()); diff != "" {
		t.Fatalf("initial FreeBlocks mismatch (-want +got):\n%s", diff)
	}

	a, err := h.Alloc(100, 8)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if a != testBase {
		t.Errorf("first block at %#x, want %#x", a, testBase)
	}
	if got := h.Allocated(); got != 128 {
		t.Errorf("Allocated() = %d, want 128", got)
	}
	// One free buddy at every order from 7 to 11.
	var want [MaxOrder]int
	for i := 7; i < 12; i++ {
		want[i] = 1
	}
	if diff := cmp.Diff(want, h.FreeBlocks()); diff != "" {
		t.Errorf("FreeBlocks after split mismatch (-want +got):\n%s", diff)
	}

	b, err := h.Alloc(128, 8)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if b != testBase+128 {
		t.Errorf("second block at %#x, want its buddy %#x", b, testBase+128)
	}

	h.Dealloc(a, 100, 8)
	h.Dealloc(b, 128, 8)
	if diff := cmp.Diff(singleBlock(12), h.FreeBlocks()); diff != "" {
		t.Errorf("FreeBlocks after free mismatch (-want +got):\n%s", diff)
	}
	if got := h.Allocated(); got != 0 {
		t.Errorf("Allocated() = %d, want 0", got)
	}
}

func TestAlignmentRoundsUp(t *testing.T) {
	h := newTestHeap(t, 1<<12)
	a, err := h.Alloc(1, 256)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if a%256 != 0 {
		t.Errorf("block %#x not 256-aligned", a)
	}
	if got := h.Allocated(); got != 256 {
		t.Errorf("Allocated() = %d, want 256", got)
	}
	zero, err := h.Alloc(0, 1)
	if err != nil {
		t.Fatalf("Alloc(0): %v", err)
	}
	if got := h.Allocated(); got != 256+alignSize {
		t.Errorf("Allocated() = %d, want %d", got, 256+alignSize)
	}
	h.Dealloc(zero, 0, 1)
	h.Dealloc(a, 1, 256)
}

func TestBlockSize(t *testing.T) {
	for _, tc := range []struct {
		size, align uint64
		want        uint64
		ok          bool
	}{
		{size: 24, align: 16, want: 32, ok: true},
		{size: 16, align: 64, want: 64, ok: true},
		{size: 100, align: 8, want: 128, ok: true},
		{size: 1, align: 1, want: alignSize, ok: true},
		{size: maxBlock, align: 8, want: maxBlock, ok: true},
		{size: maxBlock + 1, align: 8},
		{size: 1<<63 + 1, align: 8},
		{size: 8, align: 1 << 63},
	} {
		got, ok := blockSize(tc.size, tc.align)
		if got != tc.want || ok != tc.ok {
			t.Errorf("blockSize(%#x, %#x) = %#x, %t, want %#x, %t", tc.size, tc.align, got, ok, tc.want, tc.ok)
		}
	}
}

func TestAllocDoesNotOverlapWhenSizeExceedsAlign(t *testing.T) {
	h := newTestHeap(t, 1<<12)
	a, err := h.Alloc(24, 16)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	b, err := h.Alloc(24, 16)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if d := max(a, b) - min(a, b); d < 32 {
		t.Errorf("blocks %#x and %#x are %d bytes apart, want at least 32", a, b, d)
	}
	if a%16 != 0 || b%16 != 0 {
		t.Errorf("blocks %#x, %#x not 16-aligned", a, b)
	}
	h.Dealloc(a, 24, 16)
	h.Dealloc(b, 24, 16)
	if diff := cmp.Diff(singleBlock(12), h.FreeBlocks()); diff != "" {
		t.Errorf("FreeBlocks mismatch (-want +got):\n%s", diff)
	}
}

func TestAllocRejectsHugeRequests(t *testing.T) {
	h := newTestHeap(t, 1<<12)
	for _, size := range []uint64{1<<63 + 1, 1 << 40} {
		if addr, err := h.Alloc(size, 8); !errors.Is(err, ErrNoMemory) {
			t.Errorf("Alloc(%#x) = %#x, %v, want ErrNoMemory", size, addr, err)
		}
	}
	if got := h.Allocated(); got != 0 {
		t.Errorf("Allocated() = %d after failed allocations, want 0", got)
	}
}

func TestAllocBadAlignmentPanics(t *testing.T) {
	h := newTestHeap(t, 1<<12)
	defer func() {
		if recover() == nil {
			t.Errorf("Alloc with alignment 24 did not panic")
		}
	}()
	h.Alloc(16, 24)
}

func TestExhaustion(t *testing.T) {
	h := newTestHeap(t, 1<<10)
	if _, err := h.Alloc(2048, 8); !errors.Is(err, ErrNoMemory) {
		t.Errorf("oversized Alloc = %v, want ErrNoMemory", err)
	}
	var blocks []uint64
	for {
		a, err := h.Alloc(64, 8)
		if err != nil {
			break
		}
		blocks = append(blocks, a)
	}
	if len(blocks) != 16 {
		t.Errorf("got %d 64-byte blocks from 1 KiB, want 16", len(blocks))
	}
	for _, a := range blocks {
		h.Dealloc(a, 64, 8)
	}
	if diff := cmp.Diff(singleBlock(10), h.FreeBlocks()); diff != "" {
		t.Errorf("FreeBlocks mismatch (-want +got):\n%s", diff)
	}
}

func TestRandomCoalescence(t *testing.T) {
	const order = 16
	h := newTestHeap(t, 1<<order)
	rng := rand.New(rand.NewSource(1))

	type alloc struct{ addr, size uint64 }
	var live []alloc
	for step := 0; step < 2000; step++ {
		if len(live) > 0 && rng.Intn(3) == 0 {
			i := rng.Intn(len(live))
			h.Dealloc(live[i].addr, live[i].size, 8)
			live[i] = live[len(live)-1]
			live = live[:len(live)-1]
		} else {
			size := uint64(rng.Intn(2000) + 1)
			addr, err := h.Alloc(size, 8)
			if err != nil {
				continue
			}
			for _, l := range live {
				if addr < l.addr+testBlockSize(l.size) && l.addr < addr+testBlockSize(size) {
					t.Fatalf("block [%#x, +%#x) overlaps live block [%#x, +%#x)", addr, size, l.addr, l.size)
				}
			}
			live = append(live, alloc{addr, size})
		}
		if h.Allocated() > h.Total() {
			t.Fatalf("Allocated() %d exceeds Total() %d", h.Allocated(), h.Total())
		}
	}
	for _, l := range live {
		h.Dealloc(l.addr, l.size, 8)
	}
	if diff := cmp.Diff(singleBlock(order), h.FreeBlocks()); diff != "" {
		t.Errorf("FreeBlocks mismatch (-want +got):\n%s", diff)
	}
}

func TestFreeListRemove(t *testing.T) {
	a := arena{data: make([]byte, 64), base: 0x100}
	var l freeList
	for _, addr := range []uint64{0x100, 0x110, 0x120, 0x130} {
		l.push(a, addr)
	}
	if !l.remove(a, 0x120) {
		t.Fatalf("remove of a present block failed")
	}
	if l.remove(a, 0x128) {
		t.Errorf("remove of an absent block succeeded")
	}
	if !l.remove(a, 0x130) {
		t.Fatalf("remove of the head failed")
	}
	if diff := cmp.Diff([]uint64{0x110, 0x100}, l.addrs(a)); diff != "" {
		t.Errorf("list mismatch (-want +got):\n%s", diff)
	}
	if l.len != 2 {
		t.Errorf("len = %d, want 2", l.len)
	}
}
