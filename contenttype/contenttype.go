// Package contenttype parses MIME content types, falls back to content
// sniffing when an upstream response omits or mislabels its Content-Type
// header, and classifies the result into the handful of buckets the
// response pipeline branches on: renderable markup, a stylesheet, an
// opaque passthrough, or a forced download.
package contenttype

import (
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

type ContentType struct {
	TopLevelType string
	SubType      string
	Suffix       string
	Parameters   map[string]string
}

func (contentType *ContentType) String() string {
	var mimetype string
	if contentType.Suffix == "" {
		if contentType.SubType == "" {
			mimetype = contentType.TopLevelType
		} else {
			mimetype = contentType.TopLevelType + "/" + contentType.SubType
		}
	} else {
		mimetype = contentType.TopLevelType + "/" + contentType.SubType + "+" + contentType.Suffix
	}
	return mime.FormatMediaType(mimetype, contentType.Parameters)
}

func (contentType *ContentType) Equals(other ContentType) bool {
	if contentType.TopLevelType != other.TopLevelType ||
		contentType.SubType != other.SubType ||
		contentType.Suffix != other.Suffix ||
		len(contentType.Parameters) != len(other.Parameters) {
		return false
	}
	for k, v := range contentType.Parameters {
		if other.Parameters[k] != v {
			return false
		}
	}
	return true
}

func (contentType *ContentType) FilterParameters(parameters map[string]bool) {
	for k := range contentType.Parameters {
		if !parameters[k] {
			delete(contentType.Parameters, k)
		}
	}
}

func ParseContentType(contentType string) (ContentType, error) {
	mimetype, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ContentType{"", "", "", params}, err
	}
	splittedMimetype := strings.SplitN(strings.ToLower(mimetype), "/", 2)
	if len(splittedMimetype) <= 1 {
		return ContentType{splittedMimetype[0], "", "", params}, nil
	} else {
		splittedSubtype := strings.SplitN(splittedMimetype[1], "+", 2)
		if len(splittedSubtype) == 1 {
			return ContentType{splittedMimetype[0], splittedSubtype[0], "", params}, nil
		} else {
			return ContentType{splittedMimetype[0], splittedSubtype[0], splittedSubtype[1], params}, nil
		}
	}
}

// Sniff returns a best-guess ContentType for a body when the upstream
// response either omitted Content-Type entirely or sent a generic
// application/octet-stream that hides the real type.
func Sniff(body []byte) ContentType {
	detected := mimetype.Detect(body)
	parsed, err := ParseContentType(detected.String())
	if err != nil {
		return ContentType{"application", "octet-stream", "", map[string]string{}}
	}
	return parsed
}

// Class is what the response pipeline does with a body once it knows the
// content type: rewrite it as markup, rewrite it as a stylesheet, forward
// it untouched, or force a download.
type Class int

const (
	ClassOther Class = iota
	ClassHTML
	ClassCSS
	ClassPassthrough
	ClassAttachment
)

// attachmentTypes are document types the proxy forwards but never renders
// inline; they get a forced Content-Disposition: attachment instead.
var attachmentTypes = NewFilterOr([]Filter{
	NewFilterEquals("application", "pdf", "*"),
	NewFilterEquals("application", "zip", "*"),
	NewFilterEquals("application", "octet-stream", "*"),
	NewFilterContains("msword"),
	NewFilterContains("ms-excel"),
})

// passthroughTypes are bodies the pipeline forwards byte-for-byte: scripts
// and data documents that carry their own URLs but aren't safe or useful
// to rewrite as markup or stylesheets.
var passthroughTypes = NewFilterOr([]Filter{
	NewFilterContains("javascript"),
	NewFilterContains("json"),
})

// Classify decides how the response pipeline should handle a body of the
// given content type.
func Classify(contentType ContentType) Class {
	switch {
	case NewFilterEquals("text", "html", "")(contentType):
		return ClassHTML
	case NewFilterEquals("text", "css", "")(contentType):
		return ClassCSS
	case passthroughTypes(contentType):
		return ClassPassthrough
	case attachmentTypes(contentType):
		return ClassAttachment
	default:
		return ClassOther
	}
}

type Filter func(contentType ContentType) bool

func NewFilterContains(partialMimeType string) Filter {
	return func(contentType ContentType) bool {
		return strings.Contains(contentType.TopLevelType, partialMimeType) ||
			strings.Contains(contentType.SubType, partialMimeType) ||
			strings.Contains(contentType.Suffix, partialMimeType)
	}
}

func NewFilterEquals(TopLevelType, SubType, Suffix string) Filter {
	return func(contentType ContentType) bool {
		return ((TopLevelType != "*" && TopLevelType == contentType.TopLevelType) || (TopLevelType == "*")) &&
			((SubType != "*" && SubType == contentType.SubType) || (SubType == "*")) &&
			((Suffix != "*" && Suffix == contentType.Suffix) || (Suffix == "*"))
	}
}

func NewFilterOr(contentTypeFilterList []Filter) Filter {
	return func(contentType ContentType) bool {
		for _, contentTypeFilter := range contentTypeFilterList {
			if contentTypeFilter(contentType) {
				return true
			}
		}
		return false
	}
}
