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

package pgalloc

import (
	"errors"
	"testing"

	"gvisor.dev/rvkernel/pkg/sv39"
)

const ramStart = sv39.PhysAddr(0x80000000)

func newTestMem(t *testing.T, pages uint64) *PhysMem {
	t.Helper()
	mem, err := NewPhysMem(ramStart, pages*sv39.PageSize)
	if err != nil {
		t.Fatalf("NewPhysMem: %v", err)
	}
	t.Cleanup(func() { mem.Close() })
	return mem
}

func TestAllocExhaustAndRecycle(t *testing.T) {
	mem := newTestMem(t, 8)
	base := ramStart.PageNum()
	a := NewFrameAllocator(mem, base+2, base+6)
	if got := a.Total(); got != 4 {
		t.Fatalf("Total() = %d, want 4", got)
	}

	var frames []*FrameTracker
	seen := make(map[sv39.PhysPageNum]bool)
	for i := 0; i < 4; i++ {
		f, err := a.Alloc()
		if err != nil {
			t.Fatalf("Alloc #%d: %v", i, err)
		}
		if f.PPN() < base+2 || f.PPN() >= base+6 {
			t.Errorf("frame %v outside the pool", f.PPN())
		}
		if seen[f.PPN()] {
			t.Errorf("frame %v handed out twice", f.PPN())
		}
		seen[f.PPN()] = true
		frames = append(frames, f)
	}
	if _, err := a.Alloc(); !errors.Is(err, ErrOutOfMemory) {
		t.Fatalf("Alloc on an exhausted pool = %v, want ErrOutOfMemory", err)
	}

	freed := frames[1].PPN()
	frames[1].Release()
	if got := a.Free(); got != 1 {
		t.Errorf("Free() = %d, want 1", got)
	}
	f, err := a.Alloc()
	if err != nil {
		t.Fatalf("Alloc after release: %v", err)
	}
	if f.PPN() != freed {
		t.Errorf("Alloc() = %v, want recycled %v", f.PPN(), freed)
	}
}

func TestAllocZeroesFrame(t *testing.T) {
	mem := newTestMem(t, 2)
	base := ramStart.PageNum()
	a := NewFrameAllocator(mem, base, base+1)

	f, err := a.Alloc()
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	for i := range f.Bytes() {
		f.Bytes()[i] = 0xAA
	}
	f.Release()

	f, err = a.Alloc()
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	for i, b := range f.Bytes() {
		if b != 0 {
			t.Fatalf("byte %d of a fresh frame = %#x, want 0", i, b)
		}
	}
}

func TestDoubleReleasePanics(t *testing.T) {
	mem := newTestMem(t, 1)
	base := ramStart.PageNum()
	a := NewFrameAllocator(mem, base, base+1)
	f, err := a.Alloc()
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	f.Release()
	defer func() {
		if recover() == nil {
			t.Errorf("double release did not panic")
		}
	}()
	f.Release()
}

func TestPhysMemBounds(t *testing.T) {
	mem := newTestMem(t, 2)
	if !mem.Contains(ramStart, 2*sv39.PageSize) {
		t.Errorf("RAM does not contain itself")
	}
	if mem.Contains(ramStart+sv39.PageSize, sv39.PageSize+1) {
		t.Errorf("RAM contains a range past its end")
	}
	if mem.Contains(ramStart-1, 1) {
		t.Errorf("RAM contains a range before its start")
	}

	mem.WriteUint64(ramStart+8, 0x1122334455667788)
	if got := mem.ReadUint64(ramStart + 8); got != 0x1122334455667788 {
		t.Errorf("ReadUint64 = %#x", got)
	}
	if got := mem.Slice(ramStart+8, 1)[0]; got != 0x88 {
		t.Errorf("low byte = %#x, want 0x88 (little-endian)", got)
	}

	defer func() {
		if recover() == nil {
			t.Errorf("out of range Slice did not panic")
		}
	}()
	mem.Slice(mem.End(), 1)
}

func TestBitmapFirstZeroWraps(t *testing.T) {
	b := newBitmap(130)
	for i := uint64(0); i < 130; i++ {
		if i != 5 && i != 129 {
			b.add(i)
		}
	}
	if got, ok := b.firstZero(6); !ok || got != 129 {
		t.Errorf("firstZero(6) = %d, %t, want 129", got, ok)
	}
	b.add(129)
	if got, ok := b.firstZero(100); !ok || got != 5 {
		t.Errorf("firstZero(100) = %d, %t, want 5 after wrapping", got, ok)
	}
	b.add(5)
	if _, ok := b.firstZero(0); ok {
		t.Errorf("firstZero on a full bitmap succeeded")
	}
}
