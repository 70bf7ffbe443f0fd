// Package charset resolves text encodings by IANA name, encodes request
// text while dropping characters the target charset cannot represent, and
// decodes response text according to its declared content type.
package charset

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/url"
	"strings"
	"unicode/utf8"

	htmlcharset "golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Default is the charset used when none is configured.
const Default = "UTF-8"

// Charset is a resolved text encoding.
type Charset struct {
	name string
	enc  encoding.Encoding
}

// UTF8 is the default charset.
var UTF8 = Charset{name: Default, enc: unicode.UTF8}

// Lookup resolves name against the IANA registry. An empty name yields UTF-8.
func Lookup(name string) (Charset, error) {
	if name == "" || strings.EqualFold(name, Default) || strings.EqualFold(name, "utf8") {
		return UTF8, nil
	}

	enc, err := ianaindex.MIME.Encoding(name)
	if err != nil || enc == nil {
		if enc, _ = htmlcharset.Lookup(name); enc == nil {
			return Charset{}, fmt.Errorf("unsupported charset %q", name)
		}
	}

	canonical, err := ianaindex.MIME.Name(enc)
	if err != nil {
		canonical = name
	}

	return Charset{name: canonical, enc: enc}, nil
}

// Name returns the canonical charset name.
func (c Charset) Name() string {
	if c.enc == nil {
		return Default
	}
	return c.name
}

// Encode converts s into the charset. Invalid UTF-8 and characters the
// charset cannot represent are dropped. One encoder runs over the whole
// string so stateful encodings keep their shift state.
func (c Charset) Encode(s string) []byte {
	s = strings.ToValidUTF8(s, "")
	if c.enc == nil || c.enc == unicode.UTF8 {
		return []byte(s)
	}

	enc := c.enc.NewEncoder()
	src := []byte(s)
	dst := make([]byte, 2*len(src)+16)
	out := make([]byte, 0, len(src))

	for {
		nDst, nSrc, err := enc.Transform(dst, src, true)
		out = append(out, dst[:nDst]...)
		src = src[nSrc:]

		switch {
		case err == nil:
			return out
		case errors.Is(err, transform.ErrShortDst):
			if nDst == 0 && nSrc == 0 {
				dst = make([]byte, 2*len(dst))
			}
		case len(src) == 0:
			return out
		default:
			// Unmappable rune at the head of src.
			_, size := utf8.DecodeRune(src)
			src = src[size:]
		}
	}
}

// QueryEscape percent-encodes s after converting it to the charset.
func (c Charset) QueryEscape(s string) string {
	return url.QueryEscape(string(c.Encode(s)))
}

// NewReader returns a reader that converts r from the charset named in
// contentType to UTF-8. Content without a declared charset is read as UTF-8.
func NewReader(r io.Reader, contentType string) (io.Reader, error) {
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil || params["charset"] == "" {
		return r, nil
	}

	label := params["charset"]
	if strings.EqualFold(label, Default) || strings.EqualFold(label, "utf8") {
		return r, nil
	}

	return htmlcharset.NewReaderLabel(label, r)
}
