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

// Package pgalloc manages simulated physical memory and hands out physical
// page frames.
package pgalloc

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
	"gvisor.dev/rvkernel/pkg/sv39"
)

// PhysMem is the machine's RAM: a contiguous range of physical addresses
// backed by an anonymous host mapping.
type PhysMem struct {
	start sv39.PhysAddr
	data  []byte
}

// NewPhysMem maps size bytes of RAM starting at physical address start.
//
// Preconditions: start and size are page-aligned and size is non-zero.
func NewPhysMem(start sv39.PhysAddr, size uint64) (*PhysMem, error) {
	if !start.Aligned() || size == 0 || size%sv39.PageSize != 0 {
		return nil, fmt.Errorf("invalid RAM range [%v, +%#x)", start, size)
	}
	data, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("mapping %#x bytes of RAM: %w", size, err)
	}
	return &PhysMem{start: start, data: data}, nil
}

// Close unmaps the RAM. No slice previously returned by m may be used
// afterwards.
func (m *PhysMem) Close() error {
	if m.data == nil {
		return nil
	}
	err := unix.Munmap(m.data)
	m.data = nil
	return err
}

// Start returns the first physical address of RAM.
func (m *PhysMem) Start() sv39.PhysAddr {
	return m.start
}

// End returns the physical address just past the end of RAM.
func (m *PhysMem) End() sv39.PhysAddr {
	return m.start + sv39.PhysAddr(len(m.data))
}

// Contains returns true if [pa, pa+n) lies entirely within RAM.
func (m *PhysMem) Contains(pa sv39.PhysAddr, n uint64) bool {
	if pa < m.start {
		return false
	}
	off := uint64(pa - m.start)
	return off <= uint64(len(m.data)) && n <= uint64(len(m.data))-off
}

// Slice returns the n bytes of RAM starting at pa.
//
// Precondition: m.Contains(pa, n).
func (m *PhysMem) Slice(pa sv39.PhysAddr, n uint64) []byte {
	if !m.Contains(pa, n) {
		panic(fmt.Sprintf("physical range [%v, +%#x) outside RAM [%v, %v)", pa, n, m.start, m.End()))
	}
	off := uint64(pa - m.start)
	return m.data[off : off+n : off+n]
}

// Page returns the bytes of physical page ppn.
//
// Precondition: ppn is in RAM.
func (m *PhysMem) Page(ppn sv39.PhysPageNum) []byte {
	return m.Slice(ppn.Addr(), sv39.PageSize)
}

// ZeroPage clears physical page ppn.
func (m *PhysMem) ZeroPage(ppn sv39.PhysPageNum) {
	clear(m.Page(ppn))
}

// ReadUint64 returns the little-endian doubleword at pa.
func (m *PhysMem) ReadUint64(pa sv39.PhysAddr) uint64 {
	return binary.LittleEndian.Uint64(m.Slice(pa, 8))
}

// WriteUint64 stores v as a little-endian doubleword at pa.
func (m *PhysMem) WriteUint64(pa sv39.PhysAddr, v uint64) {
	binary.LittleEndian.PutUint64(m.Slice(pa, 8), v)
}
