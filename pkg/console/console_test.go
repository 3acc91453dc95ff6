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

package console

import (
	"bytes"
	"strings"
	"testing"
)

func TestBuffer(t *testing.T) {
	b := NewBuffer("ab")
	for _, want := range []byte{'a', 'b', 0, 0} {
		if got := b.Getchar(); got != want {
			t.Errorf("Getchar() = %q, want %q", got, want)
		}
	}
	b.Feed([]byte{'x', 0, 'y'})
	if got := b.Pending(); got != 2 {
		t.Errorf("Pending() = %d, want 2 with the NUL dropped", got)
	}
	b.Write([]byte("hello "))
	b.Write([]byte("world"))
	if got := b.Output(); got != "hello world" {
		t.Errorf("Output() = %q", got)
	}
}

func TestStreamReadFrom(t *testing.T) {
	var out bytes.Buffer
	s := NewStream(&out)
	n, err := s.ReadFrom(strings.NewReader("line one\nline two\n"))
	if err != nil || n != 18 {
		t.Fatalf("ReadFrom = %d, %v", n, err)
	}
	var got []byte
	for c := s.Getchar(); c != 0; c = s.Getchar() {
		got = append(got, c)
	}
	if string(got) != "line one\nline two\n" {
		t.Errorf("queued %q", got)
	}
}

func TestCRLFWriter(t *testing.T) {
	var out bytes.Buffer
	w := crlfWriter{&out}
	n, err := w.Write([]byte("a\nb\n"))
	if err != nil || n != 4 {
		t.Fatalf("Write = %d, %v", n, err)
	}
	if got := out.String(); got != "a\r\nb\r\n" {
		t.Errorf("wrote %q", got)
	}
}
