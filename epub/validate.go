package epub

import (
	"encoding/json"
	"errors"
	"io"

	"go.uber.org/zap"

	"muepub/archive"
)

// Severity groups diagnostics.
type Severity uint8

const (
	SeverityError Severity = iota
	SeverityWarning
)

func (s Severity) String() string {
	if s == SeverityWarning {
		return "warning"
	}
	return "error"
}

// MarshalJSON renders the severity as its stable string form.
func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Diagnostic is one validation finding with a stable machine-readable
// code and a human-readable message.
type Diagnostic struct {
	Severity Severity `json:"severity"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Href     string   `json:"href,omitempty"`
}

// Report collects validation diagnostics.
type Report struct {
	Diagnostics []Diagnostic `json:"diagnostics"`
}

func (r *Report) add(sev Severity, code, message, href string) {
	r.Diagnostics = append(r.Diagnostics, Diagnostic{Severity: sev, Code: code, Message: message, Href: href})
}

// ErrorCount returns the number of error-severity diagnostics; with strict
// set, warnings count as errors.
func (r *Report) ErrorCount(strict bool) int {
	n := 0
	for _, d := range r.Diagnostics {
		if d.Severity == SeverityError || strict {
			n++
		}
	}
	return n
}

// Ok reports whether validation passed.
func (r *Report) Ok(strict bool) bool { return r.ErrorCount(strict) == 0 }

// Validate checks the archive structure, the OCF layer, the package
// document, spine and manifest consistency and the navigation documents.
// It never fails: every problem becomes a diagnostic. A ZIP64 archive
// yields a single UnsupportedZip64 error with no partial results.
func Validate(r io.ReaderAt, size int64, log *zap.Logger) *Report {
	if log == nil {
		log = zap.NewNop()
	}
	rpt := &Report{}

	zr, err := archive.Open(r, size, nil, log)
	if err != nil {
		if errors.Is(err, archive.ErrUnsupportedZip64) {
			rpt.add(SeverityError, "UnsupportedZip64", "archive uses ZIP64 structures", "")
		} else {
			rpt.add(SeverityError, "ZipInvalid", err.Error(), "")
		}
		return rpt
	}

	if err := zr.ValidateMimetype(); err != nil {
		rpt.add(SeverityError, "MimetypeInvalid", err.Error(), "mimetype")
	}

	readEntry := func(name string) ([]byte, bool) {
		e, ok := zr.Entry(name)
		if !ok {
			return nil, false
		}
		buf := make([]byte, e.UncompressedSize)
		n, rerr := zr.ReadEntryAt(e, buf)
		if rerr != nil {
			return nil, false
		}
		return buf[:n], true
	}

	containerData, ok := readEntry("META-INF/container.xml")
	if !ok {
		rpt.add(SeverityError, "ContainerMissing", "META-INF/container.xml not found or unreadable", "META-INF/container.xml")
		return rpt
	}
	opfPath, cerr := ParseContainer(containerData, log)
	if cerr != nil {
		rpt.add(SeverityError, "ContainerInvalid", cerr.Error(), "META-INF/container.xml")
		return rpt
	}

	opfData, ok := readEntry(opfPath)
	if !ok {
		rpt.add(SeverityError, "OpfMissing", "rootfile not found or unreadable", opfPath)
		return rpt
	}
	pkg, perr := ParsePackage(opfData, log)
	if perr != nil {
		rpt.add(SeverityError, "OpfParseError", perr.Error(), opfPath)
		return rpt
	}
	rpt.Diagnostics = append(rpt.Diagnostics, pkg.Warnings...)

	opfDir := ""
	if i := lastSlash(opfPath); i >= 0 {
		opfDir = opfPath[:i+1]
	}

	// Manifest resources must exist in the archive.
	for i := range pkg.Manifest {
		mi := &pkg.Manifest[i]
		if _, found := zr.Entry(opfDir + mi.Href); !found {
			rpt.add(SeverityError, "ManifestResourceMissing", "manifest resource not present in archive", mi.Href)
		}
	}

	// Spine itemrefs must resolve through the manifest to XHTML content.
	for i := range pkg.Spine {
		si := &pkg.Spine[i]
		mi, found := pkg.Item(si.Idref)
		if !found {
			rpt.add(SeverityError, "SpineMissingManifestItem", "spine idref not declared in manifest: "+si.Idref, "")
			continue
		}
		if mi.MediaType != "application/xhtml+xml" && mi.MediaType != "text/html" {
			rpt.add(SeverityWarning, "SpineItemNonXhtml", "spine item has media type "+mi.MediaType, mi.Href)
		}
	}

	// Navigation: an EPUB 3 nav document, or an NCX fallback.
	hasNav := false
	if pkg.NavID != "" {
		if mi, found := pkg.Item(pkg.NavID); found {
			if data, found := readEntry(opfDir + mi.Href); found {
				if nav, nerr := ParseNavDoc(data, log); nerr == nil && nav.HasTOC() {
					hasNav = true
				} else if nerr != nil {
					rpt.add(SeverityError, "NavParseError", nerr.Error(), mi.Href)
				}
			} else {
				rpt.add(SeverityError, "NavUnreadable", "navigation document not present in archive", mi.Href)
			}
		}
	}
	if !hasNav && pkg.TocID != "" {
		if mi, found := pkg.Item(pkg.TocID); found {
			if data, found := readEntry(opfDir + mi.Href); found {
				if _, nerr := ParseNCX(data, log); nerr == nil {
					hasNav = true
				} else {
					rpt.add(SeverityError, "NcxParseError", nerr.Error(), mi.Href)
				}
			} else {
				rpt.add(SeverityError, "NcxUnreadable", "NCX document not present in archive", mi.Href)
			}
		}
	}
	if !hasNav {
		rpt.add(SeverityWarning, "NavMissing", "no usable navigation document found", "")
	}

	return rpt
}

func lastSlash(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			return i
		}
	}
	return -1
}
