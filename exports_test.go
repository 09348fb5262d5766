package incremental

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

const (
	hash32 = "0123456789abcdef0123456789abcdef"
	hash64 = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
)

func TestNewDocumentExports_Validation(t *testing.T) {
	valid := ExportsData{
		DocumentPath:  "guide/intro",
		ContentHash:   hash32,
		ExportsHash:   strings.ToUpper(hash64),
		Anchors:       map[string]string{"top": "Top"},
		LastModified:  1_700_000_000,
		DocumentTitle: "Intro",
	}
	if _, err := NewDocumentExports(valid); err != nil {
		t.Fatalf("NewDocumentExports(valid) error = %v", err)
	}

	testCases := []struct {
		name   string
		mutate func(*ExportsData)
		want   error
	}{
		{"short hash", func(d *ExportsData) { d.ContentHash = "abc" }, ErrInvalidHash},
		{"non hex hash", func(d *ExportsData) { d.ExportsHash = strings.Repeat("z", 32) }, ErrInvalidHash},
		{"negative timestamp", func(d *ExportsData) { d.LastModified = -1 }, ErrLimitExceeded},
		{"timestamp after 2100", func(d *ExportsData) { d.LastModified = MaxTimestamp + 1 }, ErrLimitExceeded},
		{"long title", func(d *ExportsData) { d.DocumentTitle = strings.Repeat("t", MaxStringLength+1) }, ErrLimitExceeded},
		{"too many citations", func(d *ExportsData) { d.Citations = make([]string, MaxCollectionItems+1) }, ErrLimitExceeded},
		{"long anchor", func(d *ExportsData) { d.Anchors = map[string]string{"a": strings.Repeat("x", MaxStringLength+1)} }, ErrLimitExceeded},
		{"control character in path", func(d *ExportsData) { d.DocumentPath = "bad\x07path" }, ErrInvalidDocPath},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			data := valid
			tc.mutate(&data)
			_, err := NewDocumentExports(data)
			if !errors.Is(err, tc.want) {
				t.Errorf("NewDocumentExports() error = %v, want %v", err, tc.want)
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Errorf("error %T is not a *ValidationError", err)
			}
		})
	}

	t.Run("all violations reported together", func(t *testing.T) {
		data := valid
		data.ContentHash = "abc"
		data.LastModified = -5
		_, err := NewDocumentExports(data)
		var ve *ValidationError
		if !errors.As(err, &ve) || len(ve.Errors) != 2 {
			t.Fatalf("error = %v, want 2 aggregated errors", err)
		}
	})

	t.Run("empty hashes and path are allowed", func(t *testing.T) {
		if _, err := NewDocumentExports(ExportsData{}); err != nil {
			t.Errorf("NewDocumentExports(zero) error = %v", err)
		}
	})
}

func TestDocumentExports_Immutable(t *testing.T) {
	anchors := map[string]string{"a": "A"}
	citations := []string{"c1"}
	e, err := NewDocumentExports(ExportsData{DocumentPath: "p", Anchors: anchors, Citations: citations})
	if err != nil {
		t.Fatalf("NewDocumentExports() error = %v", err)
	}

	anchors["b"] = "B"
	citations[0] = "changed"
	got := e.Anchors()
	got["c"] = "C"

	if e.HasAnchor("b") || e.HasAnchor("c") || len(e.Anchors()) != 1 {
		t.Errorf("anchors leaked: %v", e.Anchors())
	}
	if e.Citations()[0] != "c1" {
		t.Errorf("citations leaked: %v", e.Citations())
	}

	later, err := e.WithLastModified(42)
	if err != nil {
		t.Fatalf("WithLastModified() error = %v", err)
	}
	if e.LastModified() != 0 || later.LastModified() != 42 {
		t.Errorf("WithLastModified() modified the receiver or lost the value")
	}
}

func TestDocumentExports_ExportsChanged(t *testing.T) {
	hasher := NewHasher(nil)
	a, _ := hasher.NewExports("a", []byte("v1"), 0, map[string]string{"x": "X"}, nil, nil, "A")
	body, _ := hasher.NewExports("a", []byte("v2"), 0, map[string]string{"x": "X"}, nil, nil, "A")
	retitled, _ := hasher.NewExports("a", []byte("v1"), 0, map[string]string{"x": "X"}, nil, nil, "B")

	if a.ExportsChanged(body) {
		t.Error("body-only change reported as exports change")
	}
	if a.ContentHash() == body.ContentHash() {
		t.Error("content hash did not change with the body")
	}
	if !a.ExportsChanged(retitled) {
		t.Error("title change not reported")
	}

	var missing *DocumentExports
	if !missing.ExportsChanged(a) || !a.ExportsChanged(nil) {
		t.Error("nil on either side must count as changed")
	}
}

func TestDocumentExports_JSON(t *testing.T) {
	e, err := NewDocumentExports(ExportsData{
		DocumentPath: "42",
		ContentHash:  hash32,
		ExportsHash:  hash32,
		LastModified: 7,
	})
	if err != nil {
		t.Fatalf("NewDocumentExports() error = %v", err)
	}

	raw, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	for _, want := range []string{`"documentPath":"42"`, `"anchors":{}`, `"citations":[]`, `"lastModified":7`} {
		if !strings.Contains(string(raw), want) {
			t.Errorf("Marshal() = %s, missing %s", raw, want)
		}
	}

	var back DocumentExports
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if back.Path() != "42" || back.ContentHash() != hash32 || back.LastModified() != 7 {
		t.Errorf("round trip lost data: %+v", back.Data())
	}

	if err := json.Unmarshal([]byte(`{"documentPath":42}`), &back); !errors.Is(err, ErrMalformedCache) {
		t.Errorf("numeric documentPath error = %v, want ErrMalformedCache", err)
	}
	if err := json.Unmarshal([]byte(`{"contentHash":"nothex"}`), &back); !errors.Is(err, ErrInvalidHash) {
		t.Errorf("bad hash error = %v, want ErrInvalidHash", err)
	}
}

func TestDocPath_Validate(t *testing.T) {
	for _, ok := range []DocPath{"index", "guide/intro", "123", "ünïcode/页面"} {
		if err := ok.Validate(); err != nil {
			t.Errorf("Validate(%q) error = %v", ok, err)
		}
	}
	for _, bad := range []DocPath{"", "tab\there", "nul\x00", DocPath(strings.Repeat("p", MaxStringLength+1))} {
		if err := bad.Validate(); !errors.Is(err, ErrInvalidDocPath) {
			t.Errorf("Validate(%.20q) error = %v, want ErrInvalidDocPath", bad, err)
		}
	}
}

func TestValidationError(t *testing.T) {
	single := &ValidationError{Errors: []error{ErrInvalidHash}}
	if got := single.Error(); got != "validation failed: invalid hash" {
		t.Errorf("Error() = %q", got)
	}

	multi := &ValidationError{Errors: []error{ErrInvalidHash, ErrLimitExceeded}}
	if !strings.HasPrefix(multi.Error(), "validation failed with 2 errors:") {
		t.Errorf("Error() = %q", multi.Error())
	}
	if !errors.Is(multi, ErrLimitExceeded) {
		t.Error("errors.Is does not see wrapped errors")
	}
	if newValidationError(nil) != nil {
		t.Error("newValidationError(nil) must be nil")
	}
}
