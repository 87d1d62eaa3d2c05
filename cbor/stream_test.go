package cbor

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestEncoderStreams(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	steps := []func() error{
		enc.BeginMap,
		func() error { return enc.Encode(Text("log")) },
		enc.BeginArray,
		func() error { return enc.Encode(Uint(1)) },
		enc.BeginBytes,
		func() error { return enc.Encode(Bytes([]byte{0x01})) },
		func() error { return enc.Encode(Bytes([]byte{0x02, 0x03})) },
		enc.End,
		enc.End,
		func() error { return enc.Encode(Text("name")) },
		enc.BeginText,
		func() error { return enc.Encode(Text("a.")) },
		func() error { return enc.Encode(Text("txt")) },
		enc.End,
		enc.End,
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
	if enc.Depth() != 0 {
		t.Errorf("Depth = %d, want 0", enc.Depth())
	}

	want := mustHex(t, "bf"+"636c6f67"+"9f"+"01"+"5f"+"4101"+"420203"+"ff"+"ff"+"646e616d65"+"7f"+"62612e"+"63747874"+"ff"+"ff")
	if !bytes.Equal(buf.Bytes(), want) {
		t.Fatalf("stream = %x, want %x", buf.Bytes(), want)
	}

	got, err := Unmarshal(buf.Bytes())
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	expected := TextMap(map[string]Value{
		"log":  Array(Uint(1), Bytes([]byte{1, 2, 3})),
		"name": Text("a.txt"),
	})
	if diff := cmp.Diff(expected, got, valueComparer); diff != "" {
		t.Errorf("decoded stream mismatch (-want +got):\n%s", diff)
	}
}

func TestEncoderErrors(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	if err := enc.End(); !errors.Is(err, ErrNoStream) {
		t.Errorf("End with no stream = %v, want ErrNoStream", err)
	}

	if err := enc.BeginBytes(); err != nil {
		t.Fatal(err)
	}
	if err := enc.Encode(Text("x")); err == nil {
		t.Error("text chunk inside byte stream accepted")
	}
	if err := enc.BeginArray(); err == nil {
		t.Error("array inside byte stream accepted")
	}
}

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestEncoderWriteError(t *testing.T) {
	enc := NewEncoder(failWriter{})
	if err := enc.Encode(Uint(1)); err == nil {
		t.Error("write error not reported")
	}
}
