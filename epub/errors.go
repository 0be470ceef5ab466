// Package epub wires the pipeline together: container and package parsing,
// navigation, the Book facade with spine navigation and reading positions,
// structural validation, and the per-chapter render engine entry point.
package epub

import (
	"errors"
	"fmt"

	"muepub/archive"
	"muepub/render"
	"muepub/xhtml"
)

// ErrorKind is the error taxonomy of the library. Every failure that
// crosses the public surface is wrapped into an *Error carrying one of
// these kinds.
type ErrorKind uint8

const (
	KindZip ErrorKind = iota + 1
	KindUnsupportedZip64
	KindBufferTooSmall
	KindLimitExceeded
	KindXml
	KindCss
	KindFontResolution
	KindCancelled
	KindIo
)

func (k ErrorKind) String() string {
	switch k {
	case KindZip:
		return "Zip"
	case KindUnsupportedZip64:
		return "UnsupportedZip64"
	case KindBufferTooSmall:
		return "BufferTooSmall"
	case KindLimitExceeded:
		return "LimitExceeded"
	case KindXml:
		return "Xml"
	case KindCss:
		return "Css"
	case KindFontResolution:
		return "FontResolution"
	case KindCancelled:
		return "Cancelled"
	case KindIo:
		return "Io"
	default:
		return "Unknown"
	}
}

// Error is the top-level library error.
type Error struct {
	Kind ErrorKind
	Msg  string
	Href string
	Err  error
}

func (e *Error) Error() string {
	s := e.Kind.String()
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Href != "" {
		s += " (" + e.Href + ")"
	}
	if e.Err != nil && e.Msg == "" {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches errors by kind so callers can write
// errors.Is(err, &Error{Kind: KindZip}).
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

func newErr(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// wrapErr classifies errors from the lower layers into the taxonomy.
func wrapErr(err error, href string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	kind := KindIo
	switch {
	case errors.Is(err, archive.ErrUnsupportedZip64):
		kind = KindUnsupportedZip64
	case errors.Is(err, archive.ErrFormat),
		errors.Is(err, archive.ErrChecksum),
		errors.Is(err, archive.ErrDecompress),
		errors.Is(err, archive.ErrUnsupportedMethod),
		errors.Is(err, archive.ErrNotFound):
		kind = KindZip
	case errors.Is(err, archive.ErrIO):
		kind = KindIo
	case errors.Is(err, render.ErrCancelled):
		kind = KindCancelled
	case errors.Is(err, xhtml.ErrElementStack):
		kind = KindLimitExceeded
	case errors.Is(err, xhtml.ErrParse):
		kind = KindXml
	default:
		var bts *archive.BufferTooSmallError
		var lim *archive.LimitError
		var mime *archive.MimetypeError
		switch {
		case errors.As(err, &bts):
			kind = KindBufferTooSmall
		case errors.As(err, &lim):
			kind = KindLimitExceeded
		case errors.As(err, &mime):
			kind = KindZip
		}
	}
	return &Error{Kind: kind, Href: href, Err: err}
}
