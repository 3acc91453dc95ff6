// Copyright 2020 The gVisor Authors.
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

package cleanup

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

// build mimics constructing an object from several resources, failing after
// the last one if fail is set.
func build(trace *[]string, fail bool) func() {
	cu := Make(func() { *trace = append(*trace, "free pid") })
	defer cu.Clean()
	cu.Add(func() { *trace = append(*trace, "free stack") })
	cu.Add(func() { *trace = append(*trace, "free address space") })
	if fail {
		return nil
	}
	return cu.Release()
}

func TestCleanRunsInReverse(t *testing.T) {
	var trace []string
	build(&trace, true)
	want := []string{"free address space", "free stack", "free pid"}
	if diff := cmp.Diff(want, trace); diff != "" {
		t.Errorf("cleanup order (-want +got):\n%s", diff)
	}
}

func TestRelease(t *testing.T) {
	var trace []string
	undo := build(&trace, false)
	if len(trace) != 0 {
		t.Fatalf("released cleanup ran: %v", trace)
	}

	// The returned function still runs everything that was registered.
	undo()
	want := []string{"free address space", "free stack", "free pid"}
	if diff := cmp.Diff(want, trace); diff != "" {
		t.Errorf("cleanup order (-want +got):\n%s", diff)
	}
}

func TestCleanTwice(t *testing.T) {
	n := 0
	cu := Make(func() { n++ })
	cu.Clean()
	cu.Clean()
	if n != 1 {
		t.Errorf("cleanup ran %d times, want 1", n)
	}
}
