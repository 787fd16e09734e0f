package cache

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
)

// Kind tags the shape of a cached payload.
type Kind string

const (
	KindRepository     Kind = "repository"
	KindContributors   Kind = "contributors"
	KindIssues         Kind = "issues"
	KindPulls          Kind = "pulls"
	KindCommitActivity Kind = "commit_activity"
	KindCodeFrequency  Kind = "code_frequency"
	KindReleases       Kind = "releases"
	KindContent        Kind = "content"
	// KindNotFound is the reserved negative marker.
	KindNotFound Kind = "not_found"
)

type shape int

const (
	shapeObject shape = iota
	shapeArray
	shapeObjectOrArray
	shapeNone
)

var kindShapes = map[Kind]shape{
	KindRepository:     shapeObject,
	KindContributors:   shapeArray,
	KindIssues:         shapeArray,
	KindPulls:          shapeArray,
	KindCommitActivity: shapeArray,
	KindCodeFrequency:  shapeArray,
	KindReleases:       shapeArray,
	// A contents probe answers with an object for files and an array for directories.
	KindContent:  shapeObjectOrArray,
	KindNotFound: shapeNone,
}

// Payload is the value stored under a cache key: either a raw upstream body
// tagged with its resource kind, or the negative marker.
type Payload struct {
	Kind   Kind            `json:"kind"`
	Data   json.RawMessage `json:"data,omitempty"`
	Status int             `json:"status,omitempty"`
	Path   string          `json:"path,omitempty"`
}

// NewPayload tags an upstream body with its kind after checking that the body
// has the shape that kind requires.
func NewPayload(kind Kind, data []byte) (Payload, error) {
	p := Payload{Kind: kind, Data: json.RawMessage(data)}
	if kind == KindNotFound {
		return Payload{}, fmt.Errorf("use NotFoundPayload for negative entries")
	}
	if err := p.validate(); err != nil {
		return Payload{}, err
	}
	return p, nil
}

// NotFoundPayload builds the negative marker for path.
func NotFoundPayload(path string) Payload {
	return Payload{Kind: KindNotFound, Status: http.StatusNotFound, Path: path}
}

// IsNotFound reports whether p is the negative marker.
func (p Payload) IsNotFound() bool {
	return p.Kind == KindNotFound
}

// Decode unmarshals the payload body into v.
func (p Payload) Decode(v any) error {
	if p.IsNotFound() {
		return fmt.Errorf("cannot decode negative entry for %s", p.Path)
	}
	return json.Unmarshal(p.Data, v)
}

func (p Payload) validate() error {
	want, ok := kindShapes[p.Kind]
	if !ok {
		return fmt.Errorf("unknown payload kind %q", p.Kind)
	}

	if want == shapeNone {
		if p.Status != http.StatusNotFound {
			return fmt.Errorf("negative entry has status %d, want %d", p.Status, http.StatusNotFound)
		}
		return nil
	}

	if len(p.Data) == 0 || !gjson.ValidBytes(p.Data) {
		return fmt.Errorf("%s payload is not valid JSON", p.Kind)
	}

	body := gjson.ParseBytes(p.Data)
	switch {
	case want == shapeObject && !body.IsObject():
		return fmt.Errorf("%s payload must be a JSON object", p.Kind)
	case want == shapeArray && !body.IsArray():
		return fmt.Errorf("%s payload must be a JSON array", p.Kind)
	case want == shapeObjectOrArray && !body.IsObject() && !body.IsArray():
		return fmt.Errorf("%s payload must be a JSON object or array", p.Kind)
	}
	return nil
}

func encodePayload(p Payload) ([]byte, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	return json.Marshal(p)
}

// decodePayload parses and validates a stored envelope. Failures here keep
// malformed rows from reaching the domain mapper.
func decodePayload(raw []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, fmt.Errorf("failed to parse cache envelope: %w", err)
	}
	if err := p.validate(); err != nil {
		return Payload{}, err
	}
	return p, nil
}
