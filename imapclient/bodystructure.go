package imapclient

import (
	"strconv"
	"strings"
)

// Part is a node in a BODYSTRUCTURE.
type Part struct {
	// Section for fetching, e.g. "1" or "1.2". The top-level part is "TEXT".
	ID string

	MimeType string            // Lower case, e.g. "audio/amr" or "multipart/mixed".
	Params   map[string]string // Content-Type parameters, lower case keys.
	CID      string
	Encoding string // Content-Transfer-Encoding, as received.
	Size     int64

	Disposition       string            // Lower case, e.g. "attachment".
	DispositionParams map[string]string // Lower case keys. Includes "size" if Size is known.

	Parts []*Part // For multipart.
}

// IsMultipart returns whether the part is a multipart with subparts.
func (p *Part) IsMultipart() bool {
	return strings.HasPrefix(p.MimeType, "multipart/")
}

// Section returns the section to fetch the part with. For the top-level part of
// a non-multipart message this is "1".
func (p *Part) Section() string {
	if p.ID == "TEXT" {
		return "1"
	}
	return p.ID
}

// Walk calls fn for p and its descendants, depth-first, until fn returns false.
func (p *Part) Walk(fn func(p *Part) bool) bool {
	if !fn(p) {
		return false
	}
	for _, c := range p.Parts {
		if !c.Walk(fn) {
			return false
		}
	}
	return true
}

// FirstOfType returns the first non-multipart part with a mime type starting
// with prefix, e.g. "audio/", or nil.
func (p *Part) FirstOfType(prefix string) *Part {
	var r *Part
	p.Walk(func(x *Part) bool {
		if !x.IsMultipart() && strings.HasPrefix(x.MimeType, prefix) {
			r = x
			return false
		}
		return true
	})
	return r
}

func paramMap(l List) map[string]string {
	m := map[string]string{}
	for i := 1; i < len(l); i += 2 {
		m[strings.ToLower(l.StringAt(i-1).Text())] = l.StringAt(i).Text()
	}
	return m
}

// ParseBodyStructure parses a BODYSTRUCTURE list. The id of the top-level part
// is "TEXT". A message/rfc822 part results in ErrRFC822Unsupported.
func ParseBodyStructure(bs List) (*Part, error) {
	return parseBodyStructure(bs, "TEXT")
}

func parseBodyStructure(bs List, id string) (*Part, error) {
	if bs.Elem(0).IsList() {
		p := &Part{ID: id, MimeType: "multipart/mixed"}
		for i, e := range bs {
			if l, ok := e.(List); ok {
				cid := id + "." + strconv.Itoa(i+1)
				if id == "TEXT" {
					cid = strconv.Itoa(i + 1)
				}
				c, err := parseBodyStructure(l, cid)
				if err != nil {
					return nil, err
				}
				p.Parts = append(p.Parts, c)
				continue
			}
			// Subtype, the extension data after it is ignored.
			if s, ok := e.(*String); ok {
				p.MimeType = "multipart/" + strings.ToLower(s.Text())
			}
			break
		}
		return p, nil
	}

	typ := bs.StringAt(0)
	mimeType := strings.ToLower(typ.Text() + "/" + bs.StringAt(1).Text())
	if mimeType == "message/rfc822" {
		return nil, ErrRFC822Unsupported
	}
	p := &Part{
		ID:       id,
		MimeType: mimeType,
		Params:   paramMap(bs.ListAt(2)),
		CID:      bs.StringAt(3).Text(),
		Encoding: bs.StringAt(5).Text(),
		Size:     bs.StringAt(6).NumberOrZero(),
	}

	// For text, index 7 is the number of lines, so the disposition may be one
	// further.
	disposition := bs.ListAt(8)
	if typ.Is("TEXT") && bs.Elem(9).IsList() {
		disposition = bs.ListAt(9)
	}
	if len(disposition) > 0 {
		p.Disposition = strings.ToLower(disposition.StringAt(0).Text())
		p.DispositionParams = paramMap(disposition.ListAt(1))
	}
	if p.Size > 0 {
		if p.DispositionParams == nil {
			p.DispositionParams = map[string]string{}
		}
		if _, ok := p.DispositionParams["size"]; !ok {
			p.DispositionParams["size"] = strconv.FormatInt(p.Size, 10)
		}
	}
	return p, nil
}
