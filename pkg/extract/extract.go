// Package extract pulls firmware blobs out of a parsed resource archive and
// hands them to a destination writer.
package extract

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/skoehler/sigrok-util/pkg/ihex"
	"github.com/skoehler/sigrok-util/pkg/qtres"
)

// ErrPaddingOverflow indicates data already longer than its pad target.
var ErrPaddingOverflow = errors.New("data exceeds pad length")

// WriteFunc stores one extracted blob under the given output name.
type WriteFunc func(name string, data []byte) error

// Options control how a single resource is post-processed before writing.
type Options struct {
	// DecodeHex converts hex-record text to its binary image; resources
	// that are already binary pass through unchanged.
	DecodeHex bool
	// PadTo, when nonzero, right-pads the data with zero bytes to this
	// length. Data already longer than PadTo is an error.
	PadTo int
}

// Extractor reads resources from an archive and writes them through Write.
type Extractor struct {
	Res   *qtres.Resources
	Write WriteFunc
}

// One extracts the resource at path and writes it under outName.
func (e *Extractor) One(path, outName string, opts Options) error {
	data, err := e.Res.Get(path)
	if err != nil {
		return err
	}
	if opts.DecodeHex {
		data, err = ihex.SniffDecode(data)
		if err != nil {
			return fmt.Errorf("failed to decode %q: %w", path, err)
		}
	}
	if opts.PadTo > 0 {
		data, err = zeroPad(data, opts.PadTo)
		if err != nil {
			return fmt.Errorf("failed to pad %q: %w", path, err)
		}
	}
	if err := e.Write(outName, data); err != nil {
		return fmt.Errorf("failed to write %q: %w", outName, err)
	}
	return nil
}

// Pattern extracts every resource whose path matches re at its start. The
// output name substitutes the first capture group, lower-cased, into
// template (one %s verb). No padding is applied.
func (e *Extractor) Pattern(re *regexp.Regexp, template string, decodeHex bool) error {
	for _, path := range e.Res.FindNames(re) {
		m := re.FindStringSubmatch(path)
		if len(m) < 2 {
			return fmt.Errorf("pattern %v has no capture group for %q", re, path)
		}
		outName := fmt.Sprintf(template, strings.ToLower(m[1]))
		if err := e.One(path, outName, Options{DecodeHex: decodeHex}); err != nil {
			return err
		}
	}
	return nil
}

// zeroPad extends data with zero bytes to exactly size bytes.
func zeroPad(data []byte, size int) ([]byte, error) {
	if len(data) > size {
		return nil, fmt.Errorf("%d byte(s) into %d: %w", len(data), size, ErrPaddingOverflow)
	}
	padded := make([]byte, size)
	copy(padded, data)
	return padded, nil
}
