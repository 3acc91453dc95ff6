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

package mm

import (
	"encoding/binary"
	"errors"
	"fmt"

	"gvisor.dev/rvkernel/pkg/pagetables"
	"gvisor.dev/rvkernel/pkg/sv39"
)

// ErrFault is returned when a user buffer is not mapped with the required
// user permissions.
var ErrFault = errors.New("bad user address")

// maxStrLen bounds TranslatedStr.
const maxStrLen = 4096

// TranslatedByteBuffer returns the physical memory backing the n user bytes
// at va, one slice per page touched. If write is true every page must be
// user-writable, otherwise user-readable. Non-canonical addresses fault as
// they do on the hart.
func TranslatedByteBuffer(pt *pagetables.PageTables, va sv39.VirtAddr, n uint64, write bool) ([][]byte, error) {
	var bufs [][]byte
	end := va + sv39.VirtAddr(n)
	if end < va {
		return nil, fmt.Errorf("%w: [%v, +%#x) wraps", ErrFault, va, n)
	}
	if !va.Canonical() || (n > 0 && !(end - 1).Canonical()) {
		return nil, fmt.Errorf("%w: [%v, +%#x) is not canonical", ErrFault, va, n)
	}
	for va < end {
		pte, ok := pt.Translate(va.Floor())
		if !ok || !pte.UserAccessible() || (write && !pte.Writable()) || (!write && !pte.Readable()) {
			return nil, fmt.Errorf("%w: %v", ErrFault, va)
		}
		pageEnd := (va.Floor() + 1).Addr()
		chunk := uint64(min(pageEnd, end) - va)
		page := pt.Mem().Page(pte.PPN())
		off := va.PageOffset()
		bufs = append(bufs, page[off:off+chunk])
		va += sv39.VirtAddr(chunk)
	}
	return bufs, nil
}

// TranslatedStr reads the NUL-terminated user string at va.
func TranslatedStr(pt *pagetables.PageTables, va sv39.VirtAddr) (string, error) {
	var s []byte
	for len(s) < maxStrLen {
		bufs, err := TranslatedByteBuffer(pt, va, 1, false)
		if err != nil {
			return "", err
		}
		c := bufs[0][0]
		if c == 0 {
			return string(s), nil
		}
		s = append(s, c)
		va++
	}
	return "", fmt.Errorf("%w: string at %v longer than %d bytes", ErrFault, va, maxStrLen)
}

// CopyIn copies len(dst) user bytes at va into dst.
func CopyIn(pt *pagetables.PageTables, va sv39.VirtAddr, dst []byte) error {
	bufs, err := TranslatedByteBuffer(pt, va, uint64(len(dst)), false)
	if err != nil {
		return err
	}
	for _, b := range bufs {
		dst = dst[copy(dst, b):]
	}
	return nil
}

// CopyOut copies src to the user bytes at va.
func CopyOut(pt *pagetables.PageTables, va sv39.VirtAddr, src []byte) error {
	bufs, err := TranslatedByteBuffer(pt, va, uint64(len(src)), true)
	if err != nil {
		return err
	}
	for _, b := range bufs {
		src = src[copy(b, src):]
	}
	return nil
}

// PutInt32 stores v little-endian at the user address va.
func PutInt32(pt *pagetables.PageTables, va sv39.VirtAddr, v int32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	return CopyOut(pt, va, b[:])
}
