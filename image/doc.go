// Package image loads firmware images for upload.
//
// Images are treated as opaque bytes with a length and a SHA-256 hash. The
// hash is sent with the first chunk of an image upload so the device can
// identify the image. When the data starts with an MCUboot header its
// version and sizes are parsed for display; images without one load
// unchanged.
//
// # Usage
//
//	img, err := image.Load("zephyr.signed.bin")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if img.Header != nil {
//	    fmt.Println("version", img.Header.Version)
//	}
//
// # Error Handling
//
// Load returns ErrEmptyImage for an empty file and a descriptive error
// when an MCUboot header is present but inconsistent with the file.
package image
