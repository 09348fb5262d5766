package incremental

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
)

// ExportsData is the serialized form of DocumentExports.
// Field names match the on-disk shard format.
type ExportsData struct {
	DocumentPath  string            `json:"documentPath"`
	ContentHash   string            `json:"contentHash"`
	ExportsHash   string            `json:"exportsHash"`
	Anchors       map[string]string `json:"anchors"`
	SectionTitles map[string]string `json:"sectionTitles"`
	Citations     []string          `json:"citations"`
	LastModified  int64             `json:"lastModified"`
	DocumentTitle string            `json:"documentTitle"`
}

// DocumentExports is the public surface a document exposes to other documents,
// together with the hashes used to detect changes to its content and to that surface.
// Values are immutable once created; accessors return copies.
type DocumentExports struct {
	documentPath  DocPath
	contentHash   string
	exportsHash   string
	anchors       map[string]string
	sectionTitles map[string]string
	citations     []string
	lastModified  int64
	documentTitle string
}

// NewDocumentExports validates data and builds an immutable DocumentExports.
// All field violations are reported together in a ValidationError.
func NewDocumentExports(data ExportsData) (*DocumentExports, error) {
	if err := data.Validate(); err != nil {
		return nil, err
	}
	return &DocumentExports{
		documentPath:  DocPath(data.DocumentPath),
		contentHash:   data.ContentHash,
		exportsHash:   data.ExportsHash,
		anchors:       copyStringMap(data.Anchors),
		sectionTitles: copyStringMap(data.SectionTitles),
		citations:     slices.Clone(data.Citations),
		lastModified:  data.LastModified,
		documentTitle: data.DocumentTitle,
	}, nil
}

// NewExports hashes a freshly parsed document and builds its DocumentExports.
// It is the entry point for the parsing stage.
func (h *Hasher) NewExports(path DocPath, content []byte, lastModified int64, anchors, sectionTitles map[string]string, citations []string, title string) (*DocumentExports, error) {
	return NewDocumentExports(ExportsData{
		DocumentPath:  path.String(),
		ContentHash:   h.HashContent(content),
		ExportsHash:   h.HashExports(anchors, sectionTitles, citations, title),
		Anchors:       anchors,
		SectionTitles: sectionTitles,
		Citations:     citations,
		LastModified:  lastModified,
		DocumentTitle: title,
	})
}

// Validate checks every bound on the record.
func (d ExportsData) Validate() error {
	var errs []error

	if err := DocPath(d.DocumentPath).validateChars(); err != nil {
		errs = append(errs, err)
	}
	if err := validateHash("contentHash", d.ContentHash); err != nil {
		errs = append(errs, err)
	}
	if err := validateHash("exportsHash", d.ExportsHash); err != nil {
		errs = append(errs, err)
	}
	errs = append(errs, validateStringMap("anchors", d.Anchors)...)
	errs = append(errs, validateStringMap("sectionTitles", d.SectionTitles)...)

	if len(d.Citations) > MaxCollectionItems {
		errs = append(errs, limitError("citations count", len(d.Citations), MaxCollectionItems))
	} else {
		for _, c := range d.Citations {
			if len(c) > MaxStringLength {
				errs = append(errs, limitError("citation length", len(c), MaxStringLength))
				break
			}
		}
	}

	if d.LastModified < 0 || d.LastModified > MaxTimestamp {
		errs = append(errs, fmt.Errorf("%w: lastModified %d outside [0, %d]", ErrLimitExceeded, d.LastModified, MaxTimestamp))
	}
	if len(d.DocumentTitle) > MaxStringLength {
		errs = append(errs, limitError("documentTitle length", len(d.DocumentTitle), MaxStringLength))
	}

	return newValidationError(errs)
}

// Path returns the document path.
func (e *DocumentExports) Path() DocPath { return e.documentPath }

// ContentHash returns the raw content digest, "" when not computed.
func (e *DocumentExports) ContentHash() string { return e.contentHash }

// ExportsHash returns the digest of the exported surface.
func (e *DocumentExports) ExportsHash() string { return e.exportsHash }

// LastModified returns the source modification time as unix seconds.
func (e *DocumentExports) LastModified() int64 { return e.lastModified }

// DocumentTitle returns the document title.
func (e *DocumentExports) DocumentTitle() string { return e.documentTitle }

// Anchors returns a copy of the anchor name to title map.
func (e *DocumentExports) Anchors() map[string]string { return copyStringMap(e.anchors) }

// SectionTitles returns a copy of the section id to title map.
func (e *DocumentExports) SectionTitles() map[string]string { return copyStringMap(e.sectionTitles) }

// Citations returns a copy of the citation keys.
func (e *DocumentExports) Citations() []string { return slices.Clone(e.citations) }

// HasAnchor reports whether the document defines the anchor.
func (e *DocumentExports) HasAnchor(name string) bool {
	_, ok := e.anchors[name]
	return ok
}

// ExportsChanged reports whether other exposes a different surface.
// A nil on either side counts as changed.
func (e *DocumentExports) ExportsChanged(other *DocumentExports) bool {
	if e == nil || other == nil {
		return true
	}
	return e.exportsHash != other.exportsHash
}

// WithLastModified returns a copy with a new modification time.
func (e *DocumentExports) WithLastModified(ts int64) (*DocumentExports, error) {
	data := e.Data()
	data.LastModified = ts
	return NewDocumentExports(data)
}

// Data returns the serializable form. Maps and slices are copies and never nil.
func (e *DocumentExports) Data() ExportsData {
	citations := slices.Clone(e.citations)
	if citations == nil {
		citations = []string{}
	}
	return ExportsData{
		DocumentPath:  e.documentPath.String(),
		ContentHash:   e.contentHash,
		ExportsHash:   e.exportsHash,
		Anchors:       copyStringMap(e.anchors),
		SectionTitles: copyStringMap(e.sectionTitles),
		Citations:     citations,
		LastModified:  e.lastModified,
		DocumentTitle: e.documentTitle,
	}
}

// MarshalJSON implements json.Marshaler.
func (e *DocumentExports) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Data())
}

// UnmarshalJSON implements json.Unmarshaler and applies full validation.
func (e *DocumentExports) UnmarshalJSON(b []byte) error {
	var data ExportsData
	if err := json.Unmarshal(b, &data); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedCache, err)
	}
	parsed, err := NewDocumentExports(data)
	if err != nil {
		return err
	}
	*e = *parsed
	return nil
}

// validateHash accepts "", or a 32 or 64 character hex digest in either case.
func validateHash(field, value string) error {
	if value == "" {
		return nil
	}
	if len(value) != 32 && len(value) != 64 {
		return fmt.Errorf("%w: %s has length %d, want 32 or 64", ErrInvalidHash, field, len(value))
	}
	if _, err := hex.DecodeString(value); err != nil {
		return fmt.Errorf("%w: %s is not hex", ErrInvalidHash, field)
	}
	return nil
}

func validateStringMap(field string, m map[string]string) []error {
	if len(m) > MaxCollectionItems {
		return []error{limitError(field+" count", len(m), MaxCollectionItems)}
	}
	for k, v := range m {
		if len(k) > MaxStringLength || len(v) > MaxStringLength {
			return []error{limitError(field+" entry length", max(len(k), len(v)), MaxStringLength)}
		}
	}
	return nil
}

// copyStringMap returns a non-nil copy of m.
func copyStringMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	maps.Copy(out, m)
	return out
}
