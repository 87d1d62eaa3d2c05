package image

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// Constants for the MCUboot image header.
const (
	// HeaderMagic identifies an MCUboot image header (little-endian on disk)
	HeaderMagic = 0x96f3b83d

	// HeaderSize is the size of the fixed part of the MCUboot header
	HeaderSize = 32

	// HashSize is the size of the image hash sent with the first upload chunk
	HashSize = sha256.Size
)

var (
	// ErrEmptyImage is returned when an image has no bytes.
	ErrEmptyImage = errors.New("empty image")

	// ErrNoHeader is returned by ParseHeader when the data does not start
	// with an MCUboot header.
	ErrNoHeader = errors.New("no mcuboot header")
)

// Image is a firmware image read as opaque bytes.
type Image struct {
	// Data is the complete image as it will be uploaded
	Data []byte

	// Hash is the SHA-256 of Data
	Hash []byte

	// Header is the MCUboot header, or nil if Data does not carry one
	Header *Header
}

// Size returns the image length in bytes.
func (img *Image) Size() int {
	return len(img.Data)
}

// Header is the fixed part of an MCUboot image header.
type Header struct {
	LoadAddr         uint32
	HeaderSize       uint16
	ProtectedTLVSize uint16
	ImageSize        uint32
	Flags            uint32
	Version          Version
}

// Version is the semantic version stored in an MCUboot header.
type Version struct {
	Major    uint8
	Minor    uint8
	Revision uint16
	Build    uint32
}

func (v Version) String() string {
	if v.Build == 0 {
		return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Revision)
	}
	return fmt.Sprintf("%d.%d.%d.%d", v.Major, v.Minor, v.Revision, v.Build)
}

// Load reads a firmware image from the given file path.
//
// Example:
//
//	img, err := image.Load("zephyr.signed.bin")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("%d bytes, sha256 %x\n", img.Size(), img.Hash)
func Load(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return LoadReader(f)
}

// LoadReader reads a firmware image from any io.Reader.
func LoadReader(r io.Reader) (*Image, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	return New(data)
}

// New wraps data as an Image. The MCUboot header is parsed when present;
// images without one are accepted as-is.
func New(data []byte) (*Image, error) {
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}

	img := &Image{
		Data: data,
		Hash: Hash(data),
	}

	hdr, err := ParseHeader(data)
	switch {
	case err == nil:
		img.Header = hdr
	case errors.Is(err, ErrNoHeader):
	default:
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}

	return img, nil
}

// Hash returns the SHA-256 of data.
func Hash(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

// ParseHeader parses the MCUboot header at the start of data.
//
// Header layout (little-endian):
//
//	[Magic(4)][LoadAddr(4)][HdrSize(2)][ProtTLVSize(2)][ImgSize(4)][Flags(4)]
//	[Major(1)][Minor(1)][Revision(2)][Build(4)][Pad(4)]
//
// ErrNoHeader is returned when the magic does not match.
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < 4 || binary.LittleEndian.Uint32(data) != HeaderMagic {
		return nil, ErrNoHeader
	}
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("header too short: got %d bytes, expected %d", len(data), HeaderSize)
	}

	hdr := &Header{
		LoadAddr:         binary.LittleEndian.Uint32(data[4:]),
		HeaderSize:       binary.LittleEndian.Uint16(data[8:]),
		ProtectedTLVSize: binary.LittleEndian.Uint16(data[10:]),
		ImageSize:        binary.LittleEndian.Uint32(data[12:]),
		Flags:            binary.LittleEndian.Uint32(data[16:]),
		Version: Version{
			Major:    data[20],
			Minor:    data[21],
			Revision: binary.LittleEndian.Uint16(data[22:]),
			Build:    binary.LittleEndian.Uint32(data[24:]),
		},
	}

	if int(hdr.HeaderSize) < HeaderSize {
		return nil, fmt.Errorf("invalid header size: %d", hdr.HeaderSize)
	}
	if end := uint64(hdr.HeaderSize) + uint64(hdr.ImageSize); end > uint64(len(data)) {
		return nil, fmt.Errorf("image size mismatch: header declares %d bytes, file has %d", end, len(data))
	}

	return hdr, nil
}
