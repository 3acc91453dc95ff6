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

package userprog

import (
	"bytes"
	"debug/elf"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/rvkernel/pkg/rvasm"
)

func TestProgramsAreRISCVExecutables(t *testing.T) {
	progs := Programs()
	for name, data := range progs {
		f, err := elf.NewFile(bytes.NewReader(data))
		if err != nil {
			t.Errorf("%s: %v", name, err)
			continue
		}
		if f.Machine != elf.EM_RISCV || f.Type != elf.ET_EXEC {
			t.Errorf("%s: machine %v type %v", name, f.Machine, f.Type)
		}
		if f.Entry != rvasm.TextBase {
			t.Errorf("%s: entry %#x, want %#x", name, f.Entry, rvasm.TextBase)
		}
	}
}

func TestLoaderServesEveryTest(t *testing.T) {
	l := NewLoader()
	names := map[string]bool{}
	for _, n := range l.Names() {
		names[n] = true
	}
	want := []string{InitProc, UserTests, Child, Echo, SpinA, SpinB}
	for _, tc := range userTests {
		want = append(want, tc.name)
	}
	var missing []string
	for _, n := range want {
		if !names[n] {
			missing = append(missing, n)
		}
	}
	if diff := cmp.Diff([]string(nil), missing); diff != "" {
		t.Errorf("missing programs (-want +got):\n%s", diff)
	}
}

func TestBuilderLabelsAreUnique(t *testing.T) {
	b := newBuilder()
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		l := b.local("x")
		if seen[l] {
			t.Fatalf("label %q generated twice", l)
		}
		seen[l] = true
	}
}
