package parser

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// ContentType is the media type of a part.
type ContentType int

const (
	ContentTypeText ContentType = iota
	ContentTypeAudio
	ContentTypeVideo
	ContentTypeImage
	ContentTypeApplication
	ContentTypeMultipart
	ContentTypeMessage
	ContentTypeOther
)

var contentTypes = map[string]ContentType{
	"text":        ContentTypeText,
	"audio":       ContentTypeAudio,
	"video":       ContentTypeVideo,
	"image":       ContentTypeImage,
	"application": ContentTypeApplication,
	"multipart":   ContentTypeMultipart,
	"message":     ContentTypeMessage,
}

func (t ContentType) String() string {
	for name, v := range contentTypes {
		if v == t {
			return name
		}
	}
	return "other"
}

// IsBinary reports whether parts of this type are treated as attachments.
func (t ContentType) IsBinary() bool {
	switch t {
	case ContentTypeAudio, ContentTypeVideo, ContentTypeImage, ContentTypeApplication:
		return true
	}
	return false
}

// ContentSubtype is the media subtype of a part.
type ContentSubtype int

const (
	ContentSubtypePlain ContentSubtype = iota
	ContentSubtypeRFC822
	ContentSubtypeDigest
	ContentSubtypeAlternative
	ContentSubtypeParallel
	ContentSubtypeMixed
	ContentSubtypeHTML
	ContentSubtypeOther
)

var contentSubtypes = map[string]ContentSubtype{
	"plain":       ContentSubtypePlain,
	"rfc822":      ContentSubtypeRFC822,
	"digest":      ContentSubtypeDigest,
	"alternative": ContentSubtypeAlternative,
	"parallel":    ContentSubtypeParallel,
	"mixed":       ContentSubtypeMixed,
	"html":        ContentSubtypeHTML,
}

func (s ContentSubtype) String() string {
	for name, v := range contentSubtypes {
		if v == s {
			return name
		}
	}
	return "other"
}

var (
	headerLineRe  = regexp.MustCompile(`^([^ \t:]+[ \t]*:|[ \t])`)
	headerFieldRe = regexp.MustCompile(`^([^\t :]+)[ \t]*:(.*)$`)
	contentTypeRe = regexp.MustCompile(`(?i)^content-type:[ \t]*([^/ \t;]+)/([^; \t]+)(.*)$`)
)

// Headers is the raw header block of a message or part.
type Headers struct {
	Entity

	contentType    ContentType
	contentSubtype ContentSubtype
	fullType       string
	boundary       *Boundary
}

// newHeaders starts a header block. The enclosing type decides the default
// media type: parts of a multipart/digest are message/rfc822, anything else
// is text/plain.
func newHeaders(r *run, outerType ContentType, outerSubtype ContentSubtype) *Headers {
	h := &Headers{Entity: newEntity(r.buf, r.eol)}
	if outerType == ContentTypeMultipart && outerSubtype == ContentSubtypeDigest {
		h.contentType = ContentTypeMessage
		h.contentSubtype = ContentSubtypeRFC822
		h.fullType = "message/rfc822"
	} else {
		h.contentType = ContentTypeText
		h.contentSubtype = ContentSubtypePlain
		h.fullType = "text/plain"
	}
	return h
}

// ContentType returns the declared or default media type.
func (h *Headers) ContentType() ContentType { return h.contentType }

// ContentSubtype returns the declared or default media subtype.
func (h *Headers) ContentSubtype() ContentSubtype { return h.contentSubtype }

// ContentTypeString returns "type/subtype" in lower case, as declared.
func (h *Headers) ContentTypeString() string { return h.fullType }

// Boundary returns the part's own multipart boundary, nil if it declares
// none.
func (h *Headers) Boundary() *Boundary { return h.boundary }

func (h *Headers) parse(r *run) (Result, error) {
	var (
		foundContentType bool
		boundaryRequired bool
		blankRead        bool
		readErr          error
	)

	// The postmark took the blank line that would end an empty block.
	afterBlank := r.afterBlank
	r.afterBlank = false

	for first := true; ; first = false {
		line, err := r.src.ReadLine()
		if err != nil {
			readErr = err
			break
		}
		// A blank line ends the block. A blank first line means the part has
		// no headers at all.
		if line == "" {
			blankRead = true
			break
		}
		if first && afterBlank && !headerLineRe.MatchString(line) {
			r.src.PushBack(line)
			break
		}
		if !headerLineRe.MatchString(line) {
			// A delimiter right after the headers, or in place of them: the
			// part has no body.
			if r.stack.Delimits(line) {
				r.src.PushBack(line)
				break
			}
			h.writeLine(line)
			return ResultFailed, h.fail(fmt.Errorf("%w: %q", ErrInvalidHeaderLine, line))
		}
		h.writeLine(line)

		if foundContentType {
			if boundaryRequired && h.boundary == nil {
				h.boundary = ParseBoundary(line)
			}
			continue
		}

		m := contentTypeRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		foundContentType = true
		h.setContentType(strings.ToLower(m[1]), strings.ToLower(m[2]))
		if h.contentType == ContentTypeMultipart {
			boundaryRequired = true
			h.boundary = ParseBoundary(m[3])
		}
	}

	if readErr != nil && !errors.Is(readErr, io.EOF) {
		return ResultFailed, h.fail(readErr)
	}
	if boundaryRequired {
		if h.boundary == nil {
			return ResultFailed, h.fail(ErrMissingBoundary)
		}
		r.stack.Push(h.boundary)
	}

	h.SetSize()
	// The blank line between headers and body belongs to neither. It is
	// only written back when it was read.
	if blankRead {
		h.writeEOL()
	}

	if readErr != nil {
		return ResultEndOfStream, nil
	}
	return ResultClosed, nil
}

func (h *Headers) setContentType(tp, subtype string) {
	if v, ok := contentTypes[tp]; ok {
		h.contentType = v
	} else {
		h.contentType = ContentTypeOther
	}
	if v, ok := contentSubtypes[subtype]; ok {
		h.contentSubtype = v
	} else {
		h.contentSubtype = ContentSubtypeOther
	}
	h.fullType = tp + "/" + subtype
}

// ForEach calls fn for every header field in order, with folded
// continuation lines joined by a space. Names are lower case. Enumeration
// stops when fn returns true.
func (h *Headers) ForEach(fn func(name, value string) bool) error {
	text, err := h.Text()
	if err != nil {
		return err
	}

	var name, value string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if m := headerFieldRe.FindStringSubmatch(line); m != nil {
			if name != "" && fn(name, value) {
				return nil
			}
			name = strings.ToLower(m[1])
			value = strings.TrimLeft(m[2], " ")
			continue
		}
		if name != "" && line != "" {
			value += " " + strings.TrimLeft(line, " \t")
		}
	}
	if name != "" {
		fn(name, value)
	}
	return nil
}

// Fields returns the trimmed values of the named fields, with "" for fields
// that are absent. The first occurrence of a field wins. Without names every
// field is returned.
func (h *Headers) Fields(names ...string) (map[string]string, error) {
	want := make(map[string]struct{}, len(names))
	for _, n := range names {
		want[strings.ToLower(n)] = struct{}{}
	}

	fields := make(map[string]string, len(names))
	found := 0
	err := h.ForEach(func(name, value string) bool {
		if len(want) > 0 {
			if _, ok := want[name]; !ok {
				return false
			}
		}
		if _, seen := fields[name]; seen {
			return false
		}
		fields[name] = strings.TrimSpace(value)
		found++
		return len(want) > 0 && found == len(want)
	})
	if err != nil {
		return nil, err
	}

	for n := range want {
		if _, ok := fields[n]; !ok {
			fields[n] = ""
		}
	}
	return fields, nil
}

// Get returns the trimmed value of the first field called name.
func (h *Headers) Get(name string) (string, error) {
	fields, err := h.Fields(name)
	if err != nil {
		return "", err
	}
	return fields[strings.ToLower(name)], nil
}

// Count returns the number of header fields.
func (h *Headers) Count() (int, error) {
	n := 0
	err := h.ForEach(func(string, string) bool {
		n++
		return false
	})
	return n, err
}
