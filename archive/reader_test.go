package archive_test

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"errors"
	"strings"
	"testing"

	"muepub/archive"
)

type fixtureFile struct {
	name   string
	data   string
	stored bool
}

func buildZip(t *testing.T, files []fixtureFile) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, f := range files {
		method := zip.Deflate
		if f.stored {
			method = zip.Store
		}
		fw, err := w.CreateHeader(&zip.FileHeader{Name: f.name, Method: method})
		if err != nil {
			t.Fatalf("create %s: %v", f.name, err)
		}
		if _, err := fw.Write([]byte(f.data)); err != nil {
			t.Fatalf("write %s: %v", f.name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func epubFixture(t *testing.T) []byte {
	return buildZip(t, []fixtureFile{
		{name: "mimetype", data: archive.MimetypeContents, stored: true},
		{name: "META-INF/container.xml", data: "<container/>"},
		{name: "OEBPS/ch1.xhtml", data: strings.Repeat("<p>hello world</p>", 100)},
	})
}

func open(t *testing.T, data []byte) *archive.Reader {
	t.Helper()
	r, err := archive.Open(bytes.NewReader(data), int64(len(data)), nil, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return r
}

func TestOpenParsesCentralDirectory(t *testing.T) {
	r := open(t, epubFixture(t))
	if got := len(r.Entries()); got != 3 {
		t.Fatalf("entries = %d, want 3", got)
	}
	if r.Entries()[0].Name != "mimetype" {
		t.Errorf("first entry = %q, want mimetype", r.Entries()[0].Name)
	}
}

func TestReadEntryStored(t *testing.T) {
	r := open(t, epubFixture(t))
	out := make([]byte, 64)
	n, err := r.ReadEntry("mimetype", out)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(out[:n]) != archive.MimetypeContents {
		t.Errorf("contents = %q", out[:n])
	}
}

func TestReadEntryDeflated(t *testing.T) {
	r := open(t, epubFixture(t))
	e, ok := r.Entry("OEBPS/ch1.xhtml")
	if !ok {
		t.Fatal("entry not found")
	}
	out := make([]byte, e.UncompressedSize)
	n, err := r.ReadEntryAt(e, out)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := strings.Repeat("<p>hello world</p>", 100)
	if string(out[:n]) != want {
		t.Errorf("payload mismatch, got %d bytes", n)
	}
}

func TestReadEntryBufferTooSmall(t *testing.T) {
	r := open(t, epubFixture(t))
	out := make([]byte, 4)
	_, err := r.ReadEntry("mimetype", out)
	var bts *archive.BufferTooSmallError
	if !errors.As(err, &bts) {
		t.Fatalf("err = %v, want BufferTooSmallError", err)
	}
	if bts.Needed != uint64(len(archive.MimetypeContents)) {
		t.Errorf("needed = %d", bts.Needed)
	}
}

func TestReadEntryChecksumMismatch(t *testing.T) {
	data := buildZip(t, []fixtureFile{{name: "a.txt", data: "payload payload payload", stored: true}})
	// Flip a payload byte; the stored payload follows the 30-byte local
	// header and the 5-byte name.
	idx := bytes.Index(data, []byte("payload"))
	if idx < 0 {
		t.Fatal("payload not found")
	}
	data[idx] ^= 0xFF
	r := open(t, data)
	out := make([]byte, 64)
	if _, err := r.ReadEntry("a.txt", out); !errors.Is(err, archive.ErrChecksum) {
		t.Fatalf("err = %v, want ErrChecksum", err)
	}
}

func TestZip64SentinelRejected(t *testing.T) {
	data := epubFixture(t)
	// Overwrite the total-entry count in the EOCD with the ZIP64 sentinel.
	eocd := bytes.LastIndex(data, []byte{0x50, 0x4b, 0x05, 0x06})
	if eocd < 0 {
		t.Fatal("EOCD not found")
	}
	binary.LittleEndian.PutUint16(data[eocd+10:], 0xFFFF)
	_, err := archive.Open(bytes.NewReader(data), int64(len(data)), nil, nil)
	if !errors.Is(err, archive.ErrUnsupportedZip64) {
		t.Fatalf("err = %v, want ErrUnsupportedZip64", err)
	}
}

func TestEOCDFoundBehindComment(t *testing.T) {
	data := epubFixture(t)
	eocd := bytes.LastIndex(data, []byte{0x50, 0x4b, 0x05, 0x06})
	comment := strings.Repeat("A", 2000)
	binary.LittleEndian.PutUint16(data[eocd+20:], uint16(len(comment)))
	data = append(data, comment...)
	r := open(t, data)
	if len(r.Entries()) != 3 {
		t.Fatalf("entries = %d", len(r.Entries()))
	}
}

func TestEntrySizeLimit(t *testing.T) {
	data := epubFixture(t)
	limits := &archive.Limits{MaxUncompressedBytes: 8}
	r, err := archive.Open(bytes.NewReader(data), int64(len(data)), limits, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	out := make([]byte, 4096)
	_, err = r.ReadEntry("OEBPS/ch1.xhtml", out)
	var lim *archive.LimitError
	if !errors.As(err, &lim) {
		t.Fatalf("err = %v, want LimitError", err)
	}
	if lim.Kind != archive.LimitEntrySize {
		t.Errorf("kind = %s", lim.Kind)
	}
}

func TestReadEntryToStreams(t *testing.T) {
	r := open(t, epubFixture(t))
	var out bytes.Buffer
	scratch := make([]byte, 128)
	n, err := r.ReadEntryTo("OEBPS/ch1.xhtml", &out, scratch)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	want := strings.Repeat("<p>hello world</p>", 100)
	if out.String() != want || n != int64(len(want)) {
		t.Errorf("streamed %d bytes", n)
	}
}

func TestValidateMimetype(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		r := open(t, epubFixture(t))
		if err := r.ValidateMimetype(); err != nil {
			t.Errorf("unexpected: %v", err)
		}
	})
	t.Run("wrong contents", func(t *testing.T) {
		data := buildZip(t, []fixtureFile{{name: "mimetype", data: "application/epub+xml", stored: true}})
		r := open(t, data)
		var me *archive.MimetypeError
		if err := r.ValidateMimetype(); !errors.As(err, &me) {
			t.Errorf("err = %v, want MimetypeError", err)
		}
	})
	t.Run("missing", func(t *testing.T) {
		data := buildZip(t, []fixtureFile{{name: "other", data: "x", stored: true}})
		r := open(t, data)
		var me *archive.MimetypeError
		if err := r.ValidateMimetype(); !errors.As(err, &me) {
			t.Errorf("err = %v, want MimetypeError", err)
		}
	})
	t.Run("not first", func(t *testing.T) {
		data := buildZip(t, []fixtureFile{
			{name: "other", data: "x", stored: true},
			{name: "mimetype", data: archive.MimetypeContents, stored: true},
		})
		r := open(t, data)
		var me *archive.MimetypeError
		if err := r.ValidateMimetype(); !errors.As(err, &me) {
			t.Errorf("err = %v, want MimetypeError", err)
		}
	})
}

func TestWalkPrefix(t *testing.T) {
	r := open(t, epubFixture(t))
	var seen []string
	err := r.Walk("OEBPS/", func(e *archive.Entry) error {
		seen = append(seen, e.Name)
		return nil
	})
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	if len(seen) != 1 || seen[0] != "OEBPS/ch1.xhtml" {
		t.Errorf("seen = %v", seen)
	}
}

func TestEntryLookupTolerant(t *testing.T) {
	r := open(t, epubFixture(t))
	if _, ok := r.Entry("/OEBPS/ch1.xhtml"); !ok {
		t.Error("leading slash lookup failed")
	}
	if _, ok := r.Entry("oebps/CH1.xhtml"); !ok {
		t.Error("case-insensitive lookup failed")
	}
}
