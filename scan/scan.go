// Package scan checks files before they are encrypted and published.
//
// Encryption hides content from everyone but the buyer, so this is the last
// point at which a seller's upload can be inspected.
package scan

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

var (
	ErrExecutable = errors.New("scan: executable files are not permitted")
	ErrSpoofed    = errors.New("scan: file header does not match its extension")
	ErrEmpty      = errors.New("scan: file is empty")
)

var blacklist = [][]byte{
	{'M', 'Z'},               // DOS/PE
	{0x7f, 'E', 'L', 'F'},    // ELF
	{0xca, 0xfe, 0xba, 0xbe}, // Java class, Mach-O fat
}

var extensionMagic = map[string]struct {
	magic    []byte
	mimeType string
}{
	".jpg":  {[]byte{0xff, 0xd8, 0xff}, "image/jpeg"},
	".jpeg": {[]byte{0xff, 0xd8, 0xff}, "image/jpeg"},
	".png":  {[]byte{0x89, 'P', 'N', 'G'}, "image/png"},
	".pdf":  {[]byte{'%', 'P', 'D', 'F'}, "application/pdf"},
}

// Result describes an accepted file.
type Result struct {
	// MIMEType is the type implied by the extension when it is checked,
	// otherwise the sniffed type.
	MIMEType string
}

// Check rejects executables and files whose extension claims a format the
// header does not carry.
func Check(data []byte, filename string) (Result, error) {
	if len(data) == 0 {
		return Result{}, ErrEmpty
	}
	for _, sig := range blacklist {
		if bytes.HasPrefix(data, sig) {
			return Result{}, ErrExecutable
		}
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if want, ok := extensionMagic[ext]; ok {
		if !bytes.HasPrefix(data, want.magic) {
			return Result{}, fmt.Errorf("%w: %q is not %s", ErrSpoofed, filename, want.mimeType)
		}
		return Result{MIMEType: want.mimeType}, nil
	}

	return Result{MIMEType: mimetype.Detect(data).String()}, nil
}
