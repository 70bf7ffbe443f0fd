package client

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/beevik/etree"
	_ "golang.org/x/image/webp"

	"github.com/adamwoolhether/hostclient/client/charset"
	"github.com/adamwoolhether/hostclient/client/download"
	"github.com/adamwoolhether/hostclient/client/errs"
)

// Kind tags a consumer with the payload family it accepts. It selects the
// Accept header and the Content-Type of string bodies.
type Kind int

const (
	KindText Kind = iota
	KindJSON
	KindXML
	KindBinary
	KindNoContent
)

func (k Kind) String() string {
	switch k {
	case KindJSON:
		return "json"
	case KindXML:
		return "xml"
	case KindBinary:
		return "binary"
	case KindNoContent:
		return "no content"
	default:
		return "text"
	}
}

// accept returns the Accept header for k. mediaType is the media type the
// consumer declared.
func (k Kind) accept(mediaType string) string {
	if k == KindBinary {
		return "*/*"
	}
	return mediaType
}

const (
	MediaJSON   = "application/json"
	MediaXML    = "application/xml"
	MediaText   = "text/plain"
	MediaBinary = "application/octet-stream"
)

func (k Kind) mediaType() string {
	switch k {
	case KindJSON, KindNoContent:
		return MediaJSON
	case KindXML:
		return MediaXML
	case KindBinary:
		return MediaBinary
	default:
		return MediaText
	}
}

// Consumer interprets a response as a T. The response body is drained and
// closed by [Do] once the handler returns.
type Consumer[T any] struct {
	kind      Kind
	mediaType string
	handle    func(ctx context.Context, resp *http.Response, logger *slog.Logger) (T, error)
}

// NewConsumer builds a custom consumer of the given kind. An empty
// mediaType uses the kind's default.
func NewConsumer[T any](kind Kind, mediaType string, fn func(ctx context.Context, resp *http.Response) (T, error)) Consumer[T] {
	if mediaType == "" {
		mediaType = kind.mediaType()
	}

	c := Consumer[T]{kind: kind, mediaType: mediaType}
	if fn != nil {
		c.handle = func(ctx context.Context, resp *http.Response, _ *slog.Logger) (T, error) {
			return fn(ctx, resp)
		}
	}

	return c
}

// Kind reports the consumer's payload family.
func (c Consumer[T]) Kind() Kind {
	return c.kind
}

// MediaType reports the media type the consumer declares.
func (c Consumer[T]) MediaType() string {
	return c.mediaType
}

func consumer[T any](kind Kind, fn func(ctx context.Context, resp *http.Response, logger *slog.Logger) (T, error)) Consumer[T] {
	return Consumer[T]{kind: kind, mediaType: kind.mediaType(), handle: fn}
}

// =============================================================================
// Status checks

func statusError(resp *http.Response, err error) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, errs.MaxBodySize))
	return &errs.ProtocolError{StatusCode: resp.StatusCode, Body: string(body), Err: err}
}

func expectSuccess(resp *http.Response) error {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp, errs.ErrUnexpectedStatusCode)
	}
	return nil
}

func expectOK(resp *http.Response) error {
	if resp.StatusCode != http.StatusOK {
		return statusError(resp, errs.ErrUnexpectedStatusCode)
	}
	return nil
}

func readBody(resp *http.Response) ([]byte, error) {
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", errs.Classify(resp.Request.URL.Host, err))
	}
	return b, nil
}

// readContent reads a non-empty body, failing with errs.ErrNoContent.
func readContent(resp *http.Response) ([]byte, error) {
	if err := expectSuccess(resp); err != nil {
		return nil, err
	}

	b, err := readBody(resp)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return nil, &errs.ProtocolError{StatusCode: resp.StatusCode, Err: errs.ErrNoContent}
	}

	return b, nil
}

// =============================================================================
// Text and structured payloads

// Text reads the body as text, decoded from the charset the response
// declares.
func Text() Consumer[string] {
	return consumer(KindText, func(_ context.Context, resp *http.Response, _ *slog.Logger) (string, error) {
		if err := expectSuccess(resp); err != nil {
			return "", err
		}

		r, err := charset.NewReader(resp.Body, resp.Header.Get("Content-Type"))
		if err != nil {
			return "", &errs.ContentError{MediaType: MediaText, Err: err}
		}

		b, err := io.ReadAll(r)
		if err != nil {
			return "", fmt.Errorf("reading body: %w", errs.Classify(resp.Request.URL.Host, err))
		}

		return string(b), nil
	})
}

// JSON decodes the body into a generic object.
func JSON() Consumer[map[string]any] {
	return Into[map[string]any]()
}

// Into decodes a JSON body into a T.
func Into[T any]() Consumer[T] {
	return consumer(KindJSON, func(_ context.Context, resp *http.Response, _ *slog.Logger) (T, error) {
		var v T

		b, err := readContent(resp)
		if err != nil {
			return v, err
		}

		if err := json.Unmarshal(b, &v); err != nil {
			return v, &errs.ContentError{MediaType: MediaJSON, Err: err}
		}

		return v, nil
	})
}

// XMLSettings configures XML document parsing. It is passed by value to
// every XML consumer.
type XMLSettings struct {
	// Permissive accepts non-conforming input such as unquoted attributes.
	Permissive bool
	// CharsetReader converts non-UTF-8 documents. Defaults to
	// charset-aware decoding.
	CharsetReader func(label string, input io.Reader) (io.Reader, error)
}

// DefaultXMLSettings parses strictly with charset-aware decoding.
func DefaultXMLSettings() XMLSettings {
	return XMLSettings{CharsetReader: xmlCharsetReader}
}

func xmlCharsetReader(label string, input io.Reader) (io.Reader, error) {
	return charset.NewReader(input, "text/xml; charset="+label)
}

func (s XMLSettings) readSettings() etree.ReadSettings {
	rs := etree.ReadSettings{
		Permissive:    s.Permissive,
		CharsetReader: s.CharsetReader,
	}
	if rs.CharsetReader == nil {
		rs.CharsetReader = xmlCharsetReader
	}
	return rs
}

// XML parses the body into a document tree.
func XML(settings XMLSettings) Consumer[*etree.Document] {
	return consumer(KindXML, func(_ context.Context, resp *http.Response, _ *slog.Logger) (*etree.Document, error) {
		b, err := readContent(resp)
		if err != nil {
			return nil, err
		}

		doc := etree.NewDocument()
		doc.ReadSettings = settings.readSettings()
		if err := doc.ReadFromBytes(b); err != nil {
			return nil, &errs.ContentError{MediaType: MediaXML, Err: err}
		}

		return doc, nil
	})
}

// XMLSource returns a token decoder over the buffered body.
func XMLSource(settings XMLSettings) Consumer[*xml.Decoder] {
	return consumer(KindXML, func(_ context.Context, resp *http.Response, _ *slog.Logger) (*xml.Decoder, error) {
		b, err := readContent(resp)
		if err != nil {
			return nil, err
		}

		dec := xml.NewDecoder(bytes.NewReader(b))
		dec.Strict = !settings.Permissive
		dec.CharsetReader = settings.readSettings().CharsetReader

		return dec, nil
	})
}

// IntoXML decodes an XML body into a T.
func IntoXML[T any]() Consumer[T] {
	return consumer(KindXML, func(_ context.Context, resp *http.Response, _ *slog.Logger) (T, error) {
		var v T

		b, err := readContent(resp)
		if err != nil {
			return v, err
		}

		dec := xml.NewDecoder(bytes.NewReader(b))
		dec.CharsetReader = xmlCharsetReader
		if err := dec.Decode(&v); err != nil {
			return v, &errs.ContentError{MediaType: MediaXML, Err: err}
		}

		return v, nil
	})
}

// NoResult returns only the status code. It never fails on status.
func NoResult() Consumer[int] {
	return NoResultAs(MediaJSON)
}

// NoResultAs is NoResult declaring mediaType as the expected content type.
func NoResultAs(mediaType string) Consumer[int] {
	if mediaType == "" {
		mediaType = MediaJSON
	}

	return Consumer[int]{
		kind:      KindNoContent,
		mediaType: mediaType,
		handle: func(_ context.Context, resp *http.Response, _ *slog.Logger) (int, error) {
			return resp.StatusCode, nil
		},
	}
}

// =============================================================================
// Binary sinks

// File writes the body to path through a temporary file, renamed into place
// once complete. Partial output is removed on failure.
func File(path string, opts ...download.Option) Consumer[string] {
	return consumer(KindBinary, func(ctx context.Context, resp *http.Response, logger *slog.Logger) (string, error) {
		if err := expectOK(resp); err != nil {
			return "", err
		}

		if err := download.Handle(ctx, resp.Body, resp.ContentLength, path, logger, opts...); err != nil {
			return "", err
		}

		return path, nil
	})
}

// FileInDir writes the body into dir under the filename announced by the
// Content-Disposition header and returns the full path.
func FileInDir(dir string, opts ...download.Option) Consumer[string] {
	return consumer(KindBinary, func(ctx context.Context, resp *http.Response, logger *slog.Logger) (string, error) {
		if err := expectOK(resp); err != nil {
			return "", err
		}

		name, err := download.Filename(resp.Header.Get("Content-Disposition"))
		if err != nil {
			return "", &errs.ProtocolError{
				StatusCode: resp.StatusCode,
				Err:        fmt.Errorf("%w: Content-Disposition: %w", errs.ErrMissingHeader, err),
			}
		}

		path := filepath.Join(dir, name)
		if err := download.Handle(ctx, resp.Body, resp.ContentLength, path, logger, opts...); err != nil {
			return "", err
		}

		return path, nil
	})
}

// Image decodes a png, jpeg, gif or webp body.
func Image() Consumer[image.Image] {
	return consumer(KindBinary, func(_ context.Context, resp *http.Response, _ *slog.Logger) (image.Image, error) {
		if err := expectOK(resp); err != nil {
			return nil, err
		}

		img, _, err := image.Decode(resp.Body)
		if err != nil {
			return nil, &errs.ContentError{MediaType: resp.Header.Get("Content-Type"), Err: err}
		}

		return img, nil
	})
}

// Stream copies the body to w and returns the number of bytes written.
func Stream(w io.Writer) Consumer[int64] {
	return consumer(KindBinary, func(_ context.Context, resp *http.Response, _ *slog.Logger) (int64, error) {
		if err := expectOK(resp); err != nil {
			return 0, err
		}

		n, err := io.Copy(w, resp.Body)
		if err != nil {
			return n, fmt.Errorf("copying body: %w", errs.Classify(resp.Request.URL.Host, err))
		}

		return n, nil
	})
}

// =============================================================================
// Terminal methods

// Text executes s with [Text].
func (s *Spec) Text() (string, error) {
	return Do(s, Text())
}

// JSON executes s with [JSON].
func (s *Spec) JSON() (map[string]any, error) {
	return Do(s, JSON())
}

// Decode executes s and decodes the JSON body into dst, which must be a
// pointer.
func (s *Spec) Decode(dst any) error {
	_, err := Do(s, consumer(KindJSON, func(_ context.Context, resp *http.Response, _ *slog.Logger) (struct{}, error) {
		b, err := readContent(resp)
		if err != nil {
			return struct{}{}, err
		}
		if err := json.Unmarshal(b, dst); err != nil {
			return struct{}{}, &errs.ContentError{MediaType: MediaJSON, Err: err}
		}
		return struct{}{}, nil
	}))
	return err
}

// XML executes s with [XML] and [DefaultXMLSettings].
func (s *Spec) XML() (*etree.Document, error) {
	return Do(s, XML(DefaultXMLSettings()))
}

// XMLSource executes s with [XMLSource] and [DefaultXMLSettings].
func (s *Spec) XMLSource() (*xml.Decoder, error) {
	return Do(s, XMLSource(DefaultXMLSettings()))
}

// DecodeXML executes s and decodes the XML body into dst.
func (s *Spec) DecodeXML(dst any) error {
	_, err := Do(s, consumer(KindXML, func(_ context.Context, resp *http.Response, _ *slog.Logger) (struct{}, error) {
		b, err := readContent(resp)
		if err != nil {
			return struct{}{}, err
		}
		dec := xml.NewDecoder(bytes.NewReader(b))
		dec.CharsetReader = xmlCharsetReader
		if err := dec.Decode(dst); err != nil {
			return struct{}{}, &errs.ContentError{MediaType: MediaXML, Err: err}
		}
		return struct{}{}, nil
	}))
	return err
}

// NoResult executes s and returns the status code.
func (s *Spec) NoResult() (int, error) {
	return Do(s, NoResult())
}

// NoResultAs executes s declaring mediaType and returns the status code.
func (s *Spec) NoResultAs(mediaType string) (int, error) {
	return Do(s, NoResultAs(mediaType))
}

// File executes s and writes the body to path.
func (s *Spec) File(path string, opts ...download.Option) error {
	_, err := Do(s, File(path, opts...))
	return err
}

// FileInDir executes s and writes the body into dir, returning the path.
func (s *Spec) FileInDir(dir string, opts ...download.Option) (string, error) {
	return Do(s, FileInDir(dir, opts...))
}

// Image executes s and decodes the body as an image.
func (s *Spec) Image() (image.Image, error) {
	return Do(s, Image())
}

// Stream executes s and copies the body to w.
func (s *Spec) Stream(w io.Writer) (int64, error) {
	return Do(s, Stream(w))
}
