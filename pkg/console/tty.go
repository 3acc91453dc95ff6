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
	"errors"
	"io"
	"os"

	"github.com/mattn/go-tty"
)

// ctrlC is the byte a raw-mode terminal delivers for ^C.
const ctrlC = 0x03

// TTY is a console attached to the host's controlling terminal in raw mode.
type TTY struct {
	*Stream
	tty     *tty.TTY
	restore func() error
}

// OpenTTY opens the controlling terminal and puts it in raw mode.
func OpenTTY() (*TTY, error) {
	t, err := tty.Open()
	if err != nil {
		return nil, err
	}
	restore, err := t.Raw()
	if err != nil {
		t.Close()
		return nil, err
	}
	return &TTY{
		Stream:  NewStream(crlfWriter{t.Output()}),
		tty:     t,
		restore: restore,
	}, nil
}

// Pump queues terminal input until the terminal is closed. Carriage returns
// are delivered as newlines and ^C calls interrupt instead of being queued.
func (t *TTY) Pump(interrupt func()) error {
	for {
		r, err := t.tty.ReadRune()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
				return nil
			}
			return err
		}
		switch r {
		case ctrlC:
			interrupt()
		case '\r':
			t.Feed([]byte{'\n'})
		default:
			t.Feed([]byte(string(r)))
		}
	}
}

// Close restores the terminal mode and closes it.
func (t *TTY) Close() error {
	err := t.restore()
	if cerr := t.tty.Close(); err == nil {
		err = cerr
	}
	return err
}

// crlfWriter expands newlines for a raw-mode terminal.
type crlfWriter struct {
	w io.Writer
}

func (c crlfWriter) Write(p []byte) (int, error) {
	if _, err := c.w.Write(bytes.ReplaceAll(p, []byte{'\n'}, []byte{'\r', '\n'})); err != nil {
		return 0, err
	}
	return len(p), nil
}
