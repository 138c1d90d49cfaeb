package ring

import (
	"fmt"
	"testing"
)

func TestNewIsEmpty(t *testing.T) {
	buf := New(1024)
	if got := buf.Bytes(); len(got) != 0 {
		t.Errorf("new buffer should be empty, got %d bytes", len(got))
	}
}

func TestWriteSimple(t *testing.T) {
	buf := New(1024)
	n, err := buf.Write([]byte("hello"))
	if err != nil || n != 5 {
		t.Fatalf("Write = %d, %v", n, err)
	}
	if buf.String() != "hello" {
		t.Errorf("got %q", buf.String())
	}
}

func TestWriteOverflowKeepsNewest(t *testing.T) {
	buf := New(100)
	data := make([]byte, 150)
	for i := range data {
		data[i] = byte(i)
	}
	buf.Write(data)

	got := buf.Bytes()
	if len(got) != 100 {
		t.Fatalf("len = %d, want 100", len(got))
	}
	for i, v := range got {
		if v != byte(50+i) {
			t.Fatalf("byte %d = %d, want %d", i, v, 50+i)
		}
	}
}

func TestManySmallWritesWrap(t *testing.T) {
	buf := New(64)
	for i := 0; i < 100; i++ {
		fmt.Fprintf(buf, "%02d,", i)
	}
	got := buf.String()
	if len(got) > 64 {
		t.Fatalf("len = %d exceeds capacity", len(got))
	}
	if got[len(got)-3:] != "99," {
		t.Errorf("newest data missing: %q", got)
	}
}

func TestReset(t *testing.T) {
	buf := New(16)
	buf.Write([]byte("abc"))
	buf.Reset()
	if buf.Len() != 0 {
		t.Errorf("Len after reset = %d", buf.Len())
	}
}
