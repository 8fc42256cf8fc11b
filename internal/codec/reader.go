package codec

import (
	"bufio"
	"io"
	"strings"
)

// BOMSkippingReader removes a leading UTF-8 byte order mark. Files saved
// from spreadsheet tools on Windows often start with one, and it would
// otherwise hide the first section header.
type BOMSkippingReader struct {
	reader  *bufio.Reader
	checked bool
}

// NewBOMSkippingReader wraps r.
func NewBOMSkippingReader(r io.Reader) *BOMSkippingReader {
	return &BOMSkippingReader{reader: bufio.NewReader(r)}
}

// Read implements io.Reader.
func (b *BOMSkippingReader) Read(p []byte) (int, error) {
	if !b.checked {
		b.checked = true
		if head, err := b.reader.Peek(3); err == nil && head[0] == 0xEF && head[1] == 0xBB && head[2] == 0xBF {
			_, _ = b.reader.Discard(3)
		}
	}
	return b.reader.Read(p)
}

// ReadText reads the whole data file as text. The BOM is dropped and
// invalid UTF-8 sequences are replaced so that a stray byte cannot break
// JSON decoding of a moisture cell further down.
func ReadText(r io.Reader) (string, error) {
	data, err := io.ReadAll(NewBOMSkippingReader(r))
	if err != nil {
		return "", err
	}
	return strings.ToValidUTF8(string(data), "\uFFFD"), nil
}
