package kfmt

import (
	"bytes"
	"io"
	"testing"
)

func TestRingBuffer(t *testing.T) {
	var (
		rb  ringBuffer
		buf bytes.Buffer
	)

	t.Run("read empty", func(t *testing.T) {
		if n, err := rb.Read(make([]byte, 4)); n != 0 || err != io.EOF {
			t.Fatalf("expected (0, io.EOF); got (%d, %v)", n, err)
		}
	})

	t.Run("write and drain", func(t *testing.T) {
		rb.Write([]byte("frame pool initialized"))

		buf.Reset()
		if _, err := io.Copy(&buf, &rb); err != nil {
			t.Fatal(err)
		}

		if exp, got := "frame pool initialized", buf.String(); got != exp {
			t.Fatalf("expected to read %q; got %q", exp, got)
		}
	})

	t.Run("partial reads", func(t *testing.T) {
		rb.Write([]byte("abcdef"))

		p := make([]byte, 4)
		if n, _ := rb.Read(p); n != 4 || string(p[:n]) != "abcd" {
			t.Fatalf("expected to read %q; got %q", "abcd", p[:n])
		}
		if n, _ := rb.Read(p); n != 2 || string(p[:n]) != "ef" {
			t.Fatalf("expected to read %q; got %q", "ef", p[:n])
		}
	})

	t.Run("overwrite oldest data", func(t *testing.T) {
		// Fill the buffer with 'a' and then push a few more bytes so the
		// oldest data is overwritten.
		rb.Write(bytes.Repeat([]byte{'a'}, ringBufferSize))
		rb.Write([]byte("xyz"))

		buf.Reset()
		io.Copy(&buf, &rb)

		got := buf.Bytes()
		if exp := ringBufferSize - 1; len(got) != exp {
			t.Fatalf("expected to read %d bytes; got %d", exp, len(got))
		}

		if !bytes.HasSuffix(got, []byte("axyz")) {
			t.Fatalf("expected buffered data to end with the latest writes; got suffix %q", got[len(got)-4:])
		}
	})
}
