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

// Package mm implements address spaces: ordered sets of mapped regions over
// one page table.
package mm

import (
	"fmt"
	"strings"

	"github.com/google/btree"
	"gvisor.dev/rvkernel/pkg/pagetables"
	"gvisor.dev/rvkernel/pkg/pgalloc"
	"gvisor.dev/rvkernel/pkg/sv39"
)

// MapType is how the pages of a MapArea are backed.
type MapType int

const (
	// Identical areas map each virtual page to the physical page with the
	// same number and own no frames.
	Identical MapType = iota

	// Framed areas map each virtual page to a freshly allocated frame
	// owned by the area.
	Framed
)

// String implements fmt.Stringer.String.
func (t MapType) String() string {
	switch t {
	case Identical:
		return "Identical"
	case Framed:
		return "Framed"
	default:
		return fmt.Sprintf("MapType(%d)", int(t))
	}
}

// MapPermission is the access granted to a MapArea. The bits line up with
// the corresponding page table entry flags.
type MapPermission uint8

// Map permissions.
const (
	PermR MapPermission = 1 << 1
	PermW MapPermission = 1 << 2
	PermX MapPermission = 1 << 3
	PermU MapPermission = 1 << 4
)

// PTEFlags returns the page table entry flags granting p.
func (p MapPermission) PTEFlags() pagetables.PTEFlags {
	return pagetables.PTEFlags(p)
}

// String implements fmt.Stringer.String.
func (p MapPermission) String() string {
	var b strings.Builder
	for i, c := range "RWXU" {
		if p&(1<<(i+1)) != 0 {
			b.WriteRune(c)
		} else {
			b.WriteByte('-')
		}
	}
	return b.String()
}

// VARange is the half-open virtual address range [Start, End).
type VARange struct {
	Start sv39.VirtAddr
	End   sv39.VirtAddr
}

// String implements fmt.Stringer.String.
func (r VARange) String() string {
	return fmt.Sprintf("[%#x, %#x)", uint64(r.Start), uint64(r.End))
}

// dataFrame is an entry of a MapArea's frame index.
type dataFrame struct {
	vpn   sv39.VirtPageNum
	frame *pgalloc.FrameTracker
}

func dataFrameLess(a, b dataFrame) bool {
	return a.vpn < b.vpn
}

// btreeDegree is the degree of the per-area frame index.
const btreeDegree = 8

// MapArea is a contiguous range of virtual pages mapped with one type and
// one permission.
type MapArea struct {
	vpnRange sv39.VPNRange
	mapType  MapType
	perm     MapPermission

	// frames indexes the frames backing a Framed area by virtual page.
	frames *btree.BTreeG[dataFrame]
}

// NewMapArea returns an unmapped area covering every page that overlaps
// [start, end).
func NewMapArea(start, end sv39.VirtAddr, mapType MapType, perm MapPermission) *MapArea {
	return &MapArea{
		vpnRange: sv39.NewVPNRange(start.Floor(), end.Ceil()),
		mapType:  mapType,
		perm:     perm,
		frames:   btree.NewG(btreeDegree, dataFrameLess),
	}
}

// NewMapAreaFrom returns an unmapped area with the same range, type and
// permission as another.
func NewMapAreaFrom(another *MapArea) *MapArea {
	return &MapArea{
		vpnRange: another.vpnRange,
		mapType:  another.mapType,
		perm:     another.perm,
		frames:   btree.NewG(btreeDegree, dataFrameLess),
	}
}

// Range returns the pages covered by a.
func (a *MapArea) Range() sv39.VPNRange {
	return a.vpnRange
}

// Type returns how a is backed.
func (a *MapArea) Type() MapType {
	return a.mapType
}

// Permission returns the access a grants.
func (a *MapArea) Permission() MapPermission {
	return a.perm
}

// Frames returns the number of frames a owns.
func (a *MapArea) Frames() int {
	return a.frames.Len()
}

// String implements fmt.Stringer.String.
func (a *MapArea) String() string {
	return fmt.Sprintf("%v %v %v", a.vpnRange, a.mapType, a.perm)
}

// mapPage maps one page of a into pt, allocating its frame if a is Framed.
func (a *MapArea) mapPage(pt *pagetables.PageTables, fa *pgalloc.FrameAllocator, vpn sv39.VirtPageNum) {
	var ppn sv39.PhysPageNum
	switch a.mapType {
	case Identical:
		ppn = sv39.PhysPageNum(vpn)
	case Framed:
		f, err := fa.Alloc()
		if err != nil {
			panic(fmt.Sprintf("backing %v of area %v: %v", vpn, a, err))
		}
		ppn = f.PPN()
		a.frames.ReplaceOrInsert(dataFrame{vpn: vpn, frame: f})
	}
	pt.Map(vpn, ppn, a.perm.PTEFlags())
}

// unmapPage unmaps one page of a from pt and frees its frame.
func (a *MapArea) unmapPage(pt *pagetables.PageTables, vpn sv39.VirtPageNum) {
	if a.mapType == Framed {
		if df, ok := a.frames.Delete(dataFrame{vpn: vpn}); ok {
			df.frame.Release()
		}
	}
	pt.Unmap(vpn)
}

func (a *MapArea) mapTo(pt *pagetables.PageTables, fa *pgalloc.FrameAllocator) {
	for vpn := range a.vpnRange.All() {
		a.mapPage(pt, fa, vpn)
	}
}

func (a *MapArea) unmapFrom(pt *pagetables.PageTables) {
	for vpn := range a.vpnRange.All() {
		a.unmapPage(pt, vpn)
	}
}

// copyData copies data into the area's frames, starting at the first byte
// of its first page. Bytes of the area past the end of data are left as
// they are.
//
// Precondition: a is Framed and mapped, and data fits in a.
func (a *MapArea) copyData(data []byte) {
	if a.mapType != Framed {
		panic(fmt.Sprintf("copying data into %v area %v", a.mapType, a))
	}
	if uint64(len(data)) > a.vpnRange.Len()*sv39.PageSize {
		panic(fmt.Sprintf("%#x bytes do not fit in area %v", len(data), a))
	}
	vpn := a.vpnRange.Start
	for start := 0; start < len(data); start += sv39.PageSize {
		src := data[start:min(start+sv39.PageSize, len(data))]
		df, ok := a.frames.Get(dataFrame{vpn: vpn})
		if !ok {
			panic(fmt.Sprintf("%v of area %v has no frame", vpn, a))
		}
		copy(df.frame.Bytes(), src)
		vpn++
	}
}
