package charset

import (
	"io"
	"strings"
	"testing"

	"golang.org/x/text/encoding/japanese"
)

func TestLookup(t *testing.T) {
	testCases := []struct {
		in     string
		exp    string
		expErr bool
	}{
		{in: "", exp: "UTF-8"},
		{in: "utf-8", exp: "UTF-8"},
		{in: "ISO-8859-1", exp: "ISO-8859-1"},
		{in: "not-a-charset", expErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			cs, err := Lookup(tc.in)
			if tc.expErr {
				if err == nil {
					t.Fatal("exp error")
				}
				return
			}
			if err != nil {
				t.Fatalf("lookup: %v", err)
			}
			if cs.Name() != tc.exp {
				t.Errorf("exp %q, got %q", tc.exp, cs.Name())
			}
		})
	}
}

func TestEncode_IgnoresUnmappable(t *testing.T) {
	cs, err := Lookup("ISO-8859-1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}

	got := cs.Encode("café 世界!")
	exp := []byte{'c', 'a', 'f', 0xe9, ' ', '!'}
	if string(got) != string(exp) {
		t.Errorf("exp %x, got %x", exp, got)
	}

	if esc := cs.QueryEscape("é"); esc != "%E9" {
		t.Errorf("exp %%E9, got %s", esc)
	}
}

func TestEncode_UTF8DropsInvalid(t *testing.T) {
	got := UTF8.Encode("ok\xffok")
	if string(got) != "okok" {
		t.Errorf("exp okok, got %q", got)
	}

	if got := UTF8.Encode("a\uFFFDb"); string(got) != "a\uFFFDb" {
		t.Errorf("exp replacement character kept, got %q", got)
	}
}

func TestEncode_Stateful(t *testing.T) {
	cs, err := Lookup("ISO-2022-JP")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}

	testCases := []struct {
		name string
		in   string
		exp  string
	}{
		{name: "single shift run", in: "日本語abc", exp: "日本語abc"},
		{name: "unmappable dropped inside run", in: "日😀本語", exp: "日本語"},
		{name: "invalid utf-8 dropped", in: "日\xff本", exp: "日本"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			exp, err := japanese.ISO2022JP.NewEncoder().String(tc.exp)
			if err != nil {
				t.Fatalf("reference encode: %v", err)
			}

			if got := cs.Encode(tc.in); string(got) != exp {
				t.Errorf("exp %q, got %q", exp, got)
			}
		})
	}
}

func TestNewReader(t *testing.T) {
	testCases := []struct {
		name        string
		contentType string
		body        string
		exp         string
	}{
		{name: "no charset", contentType: "text/plain", body: "héllo", exp: "héllo"},
		{name: "utf-8", contentType: "text/plain; charset=utf-8", body: "héllo", exp: "héllo"},
		{name: "latin1", contentType: "text/plain; charset=ISO-8859-1", body: "h\xe9llo", exp: "héllo"},
		{name: "unparseable", contentType: ";;", body: "abc", exp: "abc"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r, err := NewReader(strings.NewReader(tc.body), tc.contentType)
			if err != nil {
				t.Fatalf("new reader: %v", err)
			}

			b, err := io.ReadAll(r)
			if err != nil {
				t.Fatalf("reading: %v", err)
			}
			if string(b) != tc.exp {
				t.Errorf("exp %q, got %q", tc.exp, b)
			}
		})
	}
}
