package epub

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"muepub/archive"
	"muepub/css"
	"muepub/xhtml"
)

// MaxCSSBytes caps any single stylesheet read.
const MaxCSSBytes = 512 * 1024

// Options configure Book opening.
type Options struct {
	ZipLimits *archive.Limits
	Strict    bool
	ChunkSize int
	Log       *zap.Logger
}

// Option mutates Options.
type Option func(*Options)

// WithZipLimits installs archive safety limits.
func WithZipLimits(l archive.Limits) Option {
	return func(o *Options) { o.ZipLimits = &l }
}

// WithStrict makes structural problems (such as a bad mimetype) fatal at
// open time instead of logged.
func WithStrict() Option {
	return func(o *Options) { o.Strict = true }
}

// WithChunkSize sets the streaming copy granularity.
func WithChunkSize(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.ChunkSize = n
		}
	}
}

// WithLogger installs a logger.
func WithLogger(log *zap.Logger) Option {
	return func(o *Options) {
		if log != nil {
			o.Log = log
		}
	}
}

// Book owns the archive and the scratch buffers for its lifetime. Chapter
// reads go through a single reusable buffer: the contract on every entry
// point is clear-then-fill, preserving capacity across chapters.
type Book struct {
	zr     *archive.Reader
	closer io.Closer
	pkg    *Package
	opfDir string
	log    *zap.Logger
	opts   Options

	nav       *Navigation
	navLoaded bool

	readBuf []byte
	scratch xhtml.Scratch
	tokens  []xhtml.Token

	spinePos  int
	curAnchor ChapterAnchor
}

// Open opens an EPUB file from disk.
func Open(name string, opts ...Option) (*Book, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, &Error{Kind: KindIo, Msg: "open " + name, Err: err}
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, &Error{Kind: KindIo, Msg: "stat " + name, Err: err}
	}
	b, err := FromReaderAt(f, st.Size(), opts...)
	if err != nil {
		f.Close()
		return nil, err
	}
	b.closer = f
	return b, nil
}

// FromReaderAt opens an EPUB from an in-memory or mapped archive.
func FromReaderAt(r io.ReaderAt, size int64, opts ...Option) (*Book, error) {
	o := Options{ChunkSize: 4096, Log: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	log := o.Log.Named("book")

	zr, err := archive.Open(r, size, o.ZipLimits, o.Log)
	if err != nil {
		return nil, wrapErr(err, "")
	}
	if err := zr.ValidateMimetype(); err != nil {
		if o.Strict {
			return nil, wrapErr(err, "mimetype")
		}
		log.Warn("Invalid OCF mimetype entry", zap.Error(err))
	}

	b := &Book{zr: zr, log: log, opts: o}

	containerData, err := b.readEntry("META-INF/container.xml")
	if err != nil {
		return nil, wrapErr(err, "META-INF/container.xml")
	}
	opfPath, err := ParseContainer(containerData, o.Log)
	if err != nil {
		return nil, err
	}
	b.opfDir = path.Dir(opfPath)
	if b.opfDir == "." {
		b.opfDir = ""
	}

	opfData, err := b.readEntry(opfPath)
	if err != nil {
		return nil, wrapErr(err, opfPath)
	}
	pkg, err := ParsePackage(opfData, o.Log)
	if err != nil {
		return nil, err
	}
	b.pkg = pkg
	for _, w := range pkg.Warnings {
		log.Warn("Package warning", zap.String("code", w.Code), zap.String("message", w.Message))
	}
	return b, nil
}

// Close releases the underlying file when the book was opened from disk.
func (b *Book) Close() error {
	if b.closer != nil {
		err := b.closer.Close()
		b.closer = nil
		return err
	}
	return nil
}

// Package returns the parsed package document.
func (b *Book) Package() *Package { return b.pkg }

// Metadata returns the Dublin Core metadata.
func (b *Book) Metadata() *Metadata { return &b.pkg.Metadata }

// readEntry reads an archive entry into the book's reusable buffer. The
// returned slice is valid until the next read.
func (b *Book) readEntry(name string) ([]byte, error) {
	e, ok := b.zr.Entry(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", archive.ErrNotFound, name)
	}
	if uint64(cap(b.readBuf)) < e.UncompressedSize {
		b.readBuf = make([]byte, e.UncompressedSize)
	}
	b.readBuf = b.readBuf[:e.UncompressedSize]
	n, err := b.zr.ReadEntryAt(e, b.readBuf)
	if err != nil {
		return nil, err
	}
	return b.readBuf[:n], nil
}

// resolveHref joins an OPF-relative href with the package directory and
// normalizes it.
func (b *Book) resolveHref(href string) string {
	href, _, _ = strings.Cut(href, "#")
	if b.opfDir == "" {
		return path.Clean(href)
	}
	return path.Clean(path.Join(b.opfDir, href))
}

// ReadResource returns a fresh copy of a resource addressed by an
// OPF-relative href.
func (b *Book) ReadResource(href string) ([]byte, error) {
	data, err := b.readEntry(b.resolveHref(href))
	if err != nil {
		return nil, wrapErr(err, href)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// ReadResourceTo streams a resource into w using the configured chunk size.
func (b *Book) ReadResourceTo(href string, w io.Writer) (int64, error) {
	scratch := make([]byte, b.opts.ChunkSize)
	n, err := b.zr.ReadEntryTo(b.resolveHref(href), w, scratch)
	if err != nil {
		return n, wrapErr(err, href)
	}
	return n, nil
}

// -- Spine navigation ---------------------------------------------------

// ChapterCount returns the number of spine entries.
func (b *Book) ChapterCount() int { return len(b.pkg.Spine) }

// Chapter returns the spine item at index.
func (b *Book) Chapter(index int) (*SpineItem, error) {
	if index < 0 || index >= len(b.pkg.Spine) {
		return nil, newErr(KindXml, "chapter index %d out of bounds (count %d)", index, len(b.pkg.Spine))
	}
	return &b.pkg.Spine[index], nil
}

// SpinePosition returns the current cursor.
func (b *Book) SpinePosition() int { return b.spinePos }

// Advance moves the cursor forward; it reports whether it moved.
func (b *Book) Advance() bool {
	if b.spinePos+1 >= len(b.pkg.Spine) {
		return false
	}
	b.spinePos++
	b.curAnchor = ChapterAnchor{Kind: AnchorTokenOffset}
	return true
}

// Prev moves the cursor back; it reports whether it moved.
func (b *Book) Prev() bool {
	if b.spinePos == 0 {
		return false
	}
	b.spinePos--
	b.curAnchor = ChapterAnchor{Kind: AnchorTokenOffset}
	return true
}

// GoTo moves the cursor to an absolute index.
func (b *Book) GoTo(index int) bool {
	if index < 0 || index >= len(b.pkg.Spine) {
		return false
	}
	b.spinePos = index
	b.curAnchor = ChapterAnchor{Kind: AnchorTokenOffset}
	return true
}

// GoToID moves the cursor to the spine entry with the given idref.
func (b *Book) GoToID(idref string) bool {
	for i := range b.pkg.Spine {
		if b.pkg.Spine[i].Idref == idref {
			b.spinePos = i
			b.curAnchor = ChapterAnchor{Kind: AnchorTokenOffset}
			return true
		}
	}
	return false
}

// chapterEntryName resolves the archive entry name of a spine index.
func (b *Book) chapterEntryName(index int) (string, error) {
	item, err := b.Chapter(index)
	if err != nil {
		return "", err
	}
	mi, ok := b.pkg.Item(item.Idref)
	if !ok {
		return "", newErr(KindXml, "spine item %q does not exist in manifest", item.Idref)
	}
	return b.resolveHref(mi.Href), nil
}

// ChapterHTML reads the chapter markup. The returned slice aliases the
// book's read buffer and is valid until the next read.
func (b *Book) ChapterHTML(index int) ([]byte, error) {
	name, err := b.chapterEntryName(index)
	if err != nil {
		return nil, err
	}
	data, err := b.readEntry(name)
	if err != nil {
		return nil, wrapErr(err, name)
	}
	return data, nil
}

// TokenizeChapter tokenizes a chapter into the caller's token slice using
// the book-owned scratch. Tokens borrow the scratch text buffer and stay
// valid until the next tokenize call.
func (b *Book) TokenizeChapter(index int, tokens *[]xhtml.Token) error {
	data, err := b.ChapterHTML(index)
	if err != nil {
		return err
	}
	if err := xhtml.Tokenize(data, tokens, &b.scratch, b.opts.Log); err != nil {
		return wrapErr(err, "")
	}
	return nil
}

// ChapterText extracts readable text from a chapter, separating blocks
// with newlines.
func (b *Book) ChapterText(index int) (string, error) {
	if err := b.TokenizeChapter(index, &b.tokens); err != nil {
		return "", err
	}
	var sb strings.Builder
	needSpace := false
	for _, tok := range b.tokens {
		switch tok.Kind {
		case xhtml.TokenText:
			if needSpace && sb.Len() > 0 {
				sb.WriteByte(' ')
			}
			sb.Write(tok.Text)
			needSpace = true
		case xhtml.TokenParagraphBreak, xhtml.TokenLineBreak,
			xhtml.TokenListItemEnd, xhtml.TokenHeading:
			if sb.Len() > 0 {
				sb.WriteByte('\n')
			}
			needSpace = false
		}
	}
	return strings.TrimSpace(sb.String()), nil
}

// StylesheetSource is one stylesheet in chapter cascade order.
type StylesheetSource struct {
	Href string
	CSS  []byte
}

// ChapterStylesheets collects the chapter's stylesheets in cascade order:
// linked sheets first, then inline style elements.
func (b *Book) ChapterStylesheets(index int) ([]StylesheetSource, error) {
	data, err := b.ChapterHTML(index)
	if err != nil {
		return nil, err
	}
	name, err := b.chapterEntryName(index)
	if err != nil {
		return nil, err
	}
	chapterDir := path.Dir(name)

	var hrefs []string
	var inline [][]byte
	if err := scanChapterHead(data, &hrefs, &inline); err != nil {
		return nil, err
	}

	var out []StylesheetSource
	for _, href := range hrefs {
		full := path.Clean(path.Join(chapterDir, href))
		cssData, err := b.readEntry(full)
		if err != nil {
			b.log.Warn("Linked stylesheet unreadable, skipping",
				zap.String("href", href), zap.Error(err))
			continue
		}
		if len(cssData) > MaxCSSBytes {
			b.log.Warn("Stylesheet over size cap, skipping",
				zap.String("href", href), zap.Int("bytes", len(cssData)))
			continue
		}
		cp := make([]byte, len(cssData))
		copy(cp, cssData)
		out = append(out, StylesheetSource{Href: full, CSS: cp})
	}
	for i, styleData := range inline {
		out = append(out, StylesheetSource{
			Href: fmt.Sprintf("%s#style-%d", name, i+1),
			CSS:  styleData,
		})
	}
	// The chapter markup was overwritten by stylesheet reads; reload it so
	// callers holding the alias are not surprised.
	if len(hrefs) > 0 {
		if _, err := b.ChapterHTML(index); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// scanChapterHead pulls stylesheet links and style element bodies out of
// the chapter head.
func scanChapterHead(data []byte, hrefs *[]string, inline *[][]byte) error {
	z := html.NewTokenizer(bytes.NewReader(data))
	inStyle := false
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if errors.Is(z.Err(), io.EOF) {
				return nil
			}
			return newErr(KindXml, "chapter head scan: %s", z.Err())
		case html.StartTagToken, html.SelfClosingTagToken:
			name, attrs := navTagAndAttrs(z)
			switch name {
			case "link":
				rel := strings.ToLower(attrs["rel"])
				if rel == "stylesheet" && attrs["href"] != "" {
					*hrefs = append(*hrefs, attrs["href"])
				}
			case "style":
				if tt == html.StartTagToken {
					inStyle = true
				}
			case "body":
				return nil
			}
		case html.TextToken:
			if inStyle {
				text := make([]byte, len(z.Text()))
				copy(text, z.Text())
				*inline = append(*inline, text)
			}
		case html.EndTagToken:
			name, _ := navTagAndAttrs(z)
			if name == "style" {
				inStyle = false
			}
		}
	}
}

// Navigation lazily loads the navigation documents: the EPUB 3 nav doc
// first, falling back to the EPUB 2 NCX. A book without either yields nil.
func (b *Book) Navigation() (*Navigation, error) {
	if b.navLoaded {
		return b.nav, nil
	}
	b.navLoaded = true

	if b.pkg.NavID != "" {
		if mi, ok := b.pkg.Item(b.pkg.NavID); ok {
			data, err := b.readEntry(b.resolveHref(mi.Href))
			if err == nil {
				nav, perr := ParseNavDoc(data, b.opts.Log)
				if perr == nil && nav.HasTOC() {
					b.nav = nav
					return nav, nil
				}
				if perr != nil {
					b.log.Warn("Navigation document parse failed", zap.Error(perr))
				}
			}
		}
	}
	if b.pkg.TocID != "" {
		if mi, ok := b.pkg.Item(b.pkg.TocID); ok {
			data, err := b.readEntry(b.resolveHref(mi.Href))
			if err == nil {
				nav, perr := ParseNCX(data, b.opts.Log)
				if perr == nil {
					b.nav = nav
					return nav, nil
				}
				b.log.Warn("NCX parse failed", zap.Error(perr))
			}
		}
	}
	return nil, nil
}

// chapterTitle finds the TOC label for a chapter href, falling back to the
// book title.
func (b *Book) chapterTitle(index int) string {
	item, err := b.Chapter(index)
	if err != nil {
		return b.pkg.Metadata.Title
	}
	nav, _ := b.Navigation()
	if nav != nil {
		for _, pair := range nav.FlatTOC() {
			entry := nav.Points[pair[1]]
			if entry.Href != "" && b.resolveHref(entry.Href) == b.resolveHref(item.Href) {
				return entry.Label
			}
		}
	}
	return b.pkg.Metadata.Title
}

// EmbeddedFontFace describes a font resource declared in the manifest.
type EmbeddedFontFace struct {
	Family string
	Weight int
	Italic bool
	Href   string
}

// fontMediaTypes lists manifest media types treated as font payloads.
var fontMediaTypes = map[string]bool{
	"font/ttf":                      true,
	"font/otf":                      true,
	"font/woff":                     true,
	"font/woff2":                    true,
	"application/font-sfnt":         true,
	"application/x-font-ttf":        true,
	"application/x-font-truetype":   true,
	"application/x-font-opentype":   true,
	"application/vnd.ms-opentype":   true,
	"application/font-woff":         true,
	"application/font-woff2":        true,
	"application/x-font-woff":       true,
}

// EmbeddedFonts enumerates manifest font resources. Family, weight and
// slant are derived from the resource name.
func (b *Book) EmbeddedFonts() []EmbeddedFontFace {
	var out []EmbeddedFontFace
	for i := range b.pkg.Manifest {
		mi := &b.pkg.Manifest[i]
		if !fontMediaTypes[strings.ToLower(mi.MediaType)] {
			continue
		}
		base := path.Base(mi.Href)
		base = strings.TrimSuffix(base, path.Ext(base))
		lower := strings.ToLower(base)
		face := EmbeddedFontFace{
			Family: fontFamilyFromName(base),
			Weight: 400,
			Href:   mi.Href,
		}
		if strings.Contains(lower, "bold") {
			face.Weight = 700
		}
		if strings.Contains(lower, "italic") || strings.Contains(lower, "oblique") {
			face.Italic = true
		}
		out = append(out, face)
	}
	return out
}

// fontFamilyFromName strips weight/style suffixes from a resource name.
func fontFamilyFromName(base string) string {
	for _, sep := range []string{"-", "_"} {
		if idx := strings.IndexAny(base, sep); idx > 0 {
			return base[:idx]
		}
	}
	return base
}

// cascadeDefaults derives cascade defaults from a base font size and
// family preference.
func cascadeDefaults(baseSize float32, family string) css.Defaults {
	d := css.StandardDefaults()
	if baseSize > 0 {
		d.BaseFontSizePx = baseSize
	}
	if family != "" {
		d.FontFamily = family
	}
	return d
}
