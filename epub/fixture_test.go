package epub_test

import (
	"archive/zip"
	"bytes"
	"testing"

	"muepub/epub"
)

type fixtureFile struct {
	name   string
	data   string
	stored bool
}

const containerXML = `<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`

const contentOPF = `<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" xmlns:dc="http://purl.org/dc/elements/1.1/" version="3.0" unique-identifier="uid">
  <metadata>
    <dc:title>Sample Book</dc:title>
    <dc:creator>Jane Author</dc:creator>
    <dc:language>en</dc:language>
    <dc:identifier id="uid">urn:uuid:1234</dc:identifier>
    <dc:publisher>Test House</dc:publisher>
  </metadata>
  <manifest>
    <item id="nav" href="nav.xhtml" media-type="application/xhtml+xml" properties="nav"/>
    <item id="ncx" href="toc.ncx" media-type="application/x-dtbncx+xml"/>
    <item id="ch1" href="ch1.xhtml" media-type="application/xhtml+xml"/>
    <item id="ch2" href="ch2.xhtml" media-type="application/xhtml+xml"/>
    <item id="css" href="styles.css" media-type="text/css"/>
  </manifest>
  <spine toc="ncx">
    <itemref idref="ch1"/>
    <itemref idref="ch2"/>
  </spine>
</package>`

const navXHTML = `<?xml version="1.0" encoding="UTF-8"?>
<html xmlns="http://www.w3.org/1999/xhtml" xmlns:epub="http://www.idpf.org/2007/ops">
<head><title>Navigation</title></head>
<body>
  <nav epub:type="toc">
    <ol>
      <li><a href="ch1.xhtml">Chapter <span>One</span></a>
        <ol><li><a href="ch1.xhtml#s1">Section 1.1</a></li></ol>
      </li>
      <li><a href="ch2.xhtml">Chapter Two</a></li>
    </ol>
  </nav>
  <nav epub:type="landmarks">
    <ol><li><a epub:type="bodymatter" href="ch1.xhtml">Start</a></li></ol>
  </nav>
</body>
</html>`

const tocNCX = `<?xml version="1.0" encoding="UTF-8"?>
<ncx xmlns="http://www.daisy.org/z3986/2005/ncx/" version="2005-1">
  <navMap>
    <navPoint id="n1"><navLabel><text>Chapter One</text></navLabel><content src="ch1.xhtml"/></navPoint>
    <navPoint id="n2"><navLabel><text>Chapter Two</text></navLabel><content src="ch2.xhtml"/></navPoint>
  </navMap>
</ncx>`

const chapterOne = `<?xml version="1.0" encoding="UTF-8"?>
<html xmlns="http://www.w3.org/1999/xhtml">
<head>
  <title>One</title>
  <link rel="stylesheet" type="text/css" href="styles.css"/>
</head>
<body>
  <h1>Chapter One</h1>
  <p>Rock &amp; Roll is here to stay.</p>
  <p>normal <b>bold</b> tail</p>
</body>
</html>`

const chapterTwo = `<?xml version="1.0" encoding="UTF-8"?>
<html xmlns="http://www.w3.org/1999/xhtml">
<head><title>Two</title></head>
<body>
  <h1>Chapter Two</h1>
  <p>Second chapter text with several words in it.</p>
</body>
</html>`

const stylesCSS = `p { line-height: 1.5; text-align: justify; }
h1 { font-size: 24px; }`

func defaultFixtureFiles() []fixtureFile {
	return []fixtureFile{
		{name: "mimetype", data: "application/epub+zip", stored: true},
		{name: "META-INF/container.xml", data: containerXML},
		{name: "OEBPS/content.opf", data: contentOPF},
		{name: "OEBPS/nav.xhtml", data: navXHTML},
		{name: "OEBPS/toc.ncx", data: tocNCX},
		{name: "OEBPS/ch1.xhtml", data: chapterOne},
		{name: "OEBPS/ch2.xhtml", data: chapterTwo},
		{name: "OEBPS/styles.css", data: stylesCSS},
	}
}

func buildEpub(t *testing.T, files []fixtureFile) []byte {
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
		t.Fatalf("close: %v", err)
	}
	return buf.Bytes()
}

// replaceFile swaps the contents of one fixture file.
func replaceFile(files []fixtureFile, name, data string) []fixtureFile {
	out := make([]fixtureFile, len(files))
	copy(out, files)
	for i := range out {
		if out[i].name == name {
			out[i].data = data
		}
	}
	return out
}

// dropFile removes a fixture file.
func dropFile(files []fixtureFile, name string) []fixtureFile {
	var out []fixtureFile
	for _, f := range files {
		if f.name != name {
			out = append(out, f)
		}
	}
	return out
}

func openFixture(t *testing.T, files []fixtureFile, opts ...epub.Option) *epub.Book {
	t.Helper()
	data := buildEpub(t, files)
	b, err := epub.FromReaderAt(bytes.NewReader(data), int64(len(data)), opts...)
	if err != nil {
		t.Fatalf("open fixture: %v", err)
	}
	return b
}
