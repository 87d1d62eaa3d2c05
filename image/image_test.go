package image

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// signedImage builds an MCUboot image with the given header fields and body.
func signedImage(hdrSize uint16, imgSize uint32, ver Version, body []byte) []byte {
	buf := make([]byte, int(hdrSize))
	binary.LittleEndian.PutUint32(buf[0:], HeaderMagic)
	binary.LittleEndian.PutUint32(buf[4:], 0x10000)
	binary.LittleEndian.PutUint16(buf[8:], hdrSize)
	binary.LittleEndian.PutUint16(buf[10:], 0)
	binary.LittleEndian.PutUint32(buf[12:], imgSize)
	binary.LittleEndian.PutUint32(buf[16:], 0)
	buf[20] = ver.Major
	buf[21] = ver.Minor
	binary.LittleEndian.PutUint16(buf[22:], ver.Revision)
	binary.LittleEndian.PutUint32(buf[24:], ver.Build)
	return append(buf, body...)
}

func withHeaderSize(data []byte, size uint16) []byte {
	binary.LittleEndian.PutUint16(data[8:], size)
	return data
}

func TestLoadReader(t *testing.T) {
	body := bytes.Repeat([]byte{0xAB}, 64)
	ver := Version{Major: 1, Minor: 2, Revision: 3, Build: 4}

	tests := []struct {
		name       string
		input      []byte
		wantHeader *Header
		wantErr    error
		errMsg     string
	}{
		{
			name:  "opaque bytes",
			input: []byte("not an mcuboot image"),
		},
		{
			name:  "mcuboot header",
			input: signedImage(32, 64, ver, body),
			wantHeader: &Header{
				LoadAddr:   0x10000,
				HeaderSize: 32,
				ImageSize:  64,
				Version:    ver,
			},
		},
		{
			name:    "empty",
			input:   nil,
			wantErr: ErrEmptyImage,
		},
		{
			name:   "truncated header",
			input:  signedImage(32, 64, ver, nil)[:16],
			errMsg: "header too short",
		},
		{
			name:   "image size beyond file",
			input:  signedImage(32, 128, ver, body),
			errMsg: "image size mismatch",
		},
		{
			name:   "header size too small",
			input:  withHeaderSize(signedImage(32, 0, ver, nil), 16),
			errMsg: "invalid header size",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := LoadReader(bytes.NewReader(tt.input))
			if tt.wantErr != nil || tt.errMsg != "" {
				if err == nil {
					t.Fatal("LoadReader() expected error, got nil")
				}
				if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
					t.Errorf("LoadReader() error = %v, want %v", err, tt.wantErr)
				}
				if tt.errMsg != "" && !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("LoadReader() error = %q, want containing %q", err, tt.errMsg)
				}
				return
			}
			if err != nil {
				t.Fatalf("LoadReader() unexpected error: %v", err)
			}
			if img.Size() != len(tt.input) {
				t.Errorf("Size() = %d, want %d", img.Size(), len(tt.input))
			}
			sum := sha256.Sum256(tt.input)
			if !bytes.Equal(img.Hash, sum[:]) {
				t.Errorf("Hash = %x, want %x", img.Hash, sum)
			}
			if diff := cmp.Diff(tt.wantHeader, img.Header); diff != "" {
				t.Errorf("Header mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.bin")
	data := []byte{0x01, 0x02, 0x03}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	img, err := Load(path)
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	if !bytes.Equal(img.Data, data) {
		t.Errorf("Data = %x, want %x", img.Data, data)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.bin")); err == nil {
		t.Error("Load() of a missing file expected error, got nil")
	}
}

func TestParseHeaderNoMagic(t *testing.T) {
	for _, data := range [][]byte{nil, {0x3d, 0xb8}, {0, 0, 0, 0, 0}} {
		if _, err := ParseHeader(data); !errors.Is(err, ErrNoHeader) {
			t.Errorf("ParseHeader(%x) error = %v, want ErrNoHeader", data, err)
		}
	}
}

func TestHash(t *testing.T) {
	got := Hash([]byte("abc"))
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if len(got) != HashSize {
		t.Fatalf("len(Hash) = %d, want %d", len(got), HashSize)
	}
	if hexed := hex.EncodeToString(got); hexed != want {
		t.Errorf("Hash(abc) = %s, want %s", hexed, want)
	}
}

func TestVersionString(t *testing.T) {
	tests := []struct {
		v    Version
		want string
	}{
		{Version{Major: 1, Minor: 2, Revision: 3}, "1.2.3"},
		{Version{Major: 0, Minor: 0, Revision: 0, Build: 7}, "0.0.0.7"},
	}
	for _, tt := range tests {
		if got := tt.v.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
