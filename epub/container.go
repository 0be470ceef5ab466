package epub

import (
	"strings"

	"github.com/beevik/etree"
	"go.uber.org/zap"
)

const packageMediaType = "application/oebps-package+xml"

// ParseContainer extracts the OPF rootfile path from META-INF/container.xml.
// When several rootfiles are declared the first usable one wins.
func ParseContainer(data []byte, log *zap.Logger) (string, error) {
	if log == nil {
		log = zap.NewNop()
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return "", newErr(KindXml, "container.xml: %s", err)
	}
	root := doc.Root()
	if root == nil || root.Tag != "container" {
		return "", newErr(KindXml, "container.xml: missing container root element")
	}

	var fallback string
	for _, rootfiles := range root.ChildElements() {
		if rootfiles.Tag != "rootfiles" {
			continue
		}
		for _, rf := range rootfiles.ChildElements() {
			if rf.Tag != "rootfile" {
				continue
			}
			path := strings.TrimSpace(rf.SelectAttrValue("full-path", ""))
			if path == "" {
				continue
			}
			media := rf.SelectAttrValue("media-type", "")
			if media == packageMediaType {
				return path, nil
			}
			if fallback == "" {
				fallback = path
				log.Debug("Rootfile with unexpected media type kept as fallback",
					zap.String("path", path), zap.String("media-type", media))
			}
		}
	}
	if fallback != "" {
		return fallback, nil
	}
	return "", newErr(KindXml, "container.xml: no usable rootfile")
}
