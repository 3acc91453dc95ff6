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

// Package console implements the serial console the kernel's read and write
// system calls use.
package console

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"os"

	"gvisor.dev/rvkernel/pkg/sync"
)

// Console is a byte-oriented serial line.
type Console interface {
	// Getchar returns the next input byte, or 0 if no input is pending. It
	// never blocks.
	Getchar() byte

	// Write writes p to the output.
	Write(p []byte) (int, error)
}

// Stream is a Console whose input is queued by Feed or ReadFrom and whose
// output goes to an io.Writer. It is safe for concurrent use.
type Stream struct {
	mu  sync.Mutex
	in  []byte
	out io.Writer
}

// NewStream returns a Stream writing to out.
func NewStream(out io.Writer) *Stream {
	return &Stream{out: out}
}

// Getchar implements Console.Getchar.
func (s *Stream) Getchar() byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.in) == 0 {
		return 0
	}
	c := s.in[0]
	s.in = s.in[1:]
	return c
}

// Write implements Console.Write.
func (s *Stream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out.Write(p)
}

// Feed queues p as input. NUL bytes are dropped since Getchar reserves zero
// for "no input".
func (s *Stream) Feed(p []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range p {
		if c != 0 {
			s.in = append(s.in, c)
		}
	}
}

// Pending returns the number of queued input bytes.
func (s *Stream) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.in)
}

// ReadFrom queues everything read from r until EOF. It returns nil at EOF
// or if r is closed.
func (s *Stream) ReadFrom(r io.Reader) (int64, error) {
	br := bufio.NewReader(r)
	var buf [256]byte
	var total int64
	for {
		n, err := br.Read(buf[:])
		s.Feed(buf[:n])
		total += int64(n)
		switch {
		case err == nil:
		case errors.Is(err, io.EOF), errors.Is(err, os.ErrClosed):
			return total, nil
		default:
			return total, err
		}
	}
}

// Buffer is an in-memory console.
type Buffer struct {
	*Stream
	out lockedBuffer
}

// NewBuffer returns an in-memory console with input queued.
func NewBuffer(input string) *Buffer {
	b := &Buffer{}
	b.Stream = NewStream(&b.out)
	b.Feed([]byte(input))
	return b
}

// Output returns everything written so far.
func (b *Buffer) Output() string {
	return b.out.String()
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (l *lockedBuffer) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.Write(p)
}

func (l *lockedBuffer) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.String()
}
