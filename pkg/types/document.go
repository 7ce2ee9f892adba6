package types

import (
	"encoding/json"
	"strconv"
	"time"
)

// Document is the bundle an annotation service reads and extends: the
// source documents being annotated plus the views produced so far.
type Document struct {
	Metadata  map[string]any   `json:"metadata,omitempty"`
	Documents []SourceDocument `json:"documents"`
	Views     []*View          `json:"views"`
}

// SourceDocument references primary data (audio, video, text, image).
type SourceDocument struct {
	Type       string           `json:"@type"`
	Properties SourceProperties `json:"properties"`
}

type SourceProperties struct {
	ID       string `json:"id"`
	MIME     string `json:"mime,omitempty"`
	Location string `json:"location,omitempty"`
}

// View is one producer's contribution to a Document.
type View struct {
	ID          string       `json:"id"`
	Metadata    ViewMetadata `json:"metadata"`
	Annotations []Annotation `json:"annotations"`
}

// ViewMetadata is the audit trail entry of a view.
type ViewMetadata struct {
	Timestamp time.Time `json:"timestamp"`
	App       string    `json:"app"`
	// Contains maps annotation type URIs to their shared properties.
	Contains map[string]map[string]any `json:"contains,omitempty"`
	// Parameters are the raw values the caller supplied.
	Parameters map[string][]string `json:"parameters,omitempty"`
	// AppConfiguration is the refined configuration the analysis ran with.
	AppConfiguration map[string]any `json:"appConfiguration,omitempty"`
	Error            *ViewError     `json:"error,omitempty"`
	Warnings         []string       `json:"warnings,omitempty"`
	AppProfiling     *AppProfiling  `json:"appProfiling,omitempty"`
}

// ViewError replaces a view's annotations when the analysis failed.
type ViewError struct {
	Message    string `json:"message"`
	StackTrace string `json:"stackTrace"`
}

type AppProfiling struct {
	RunningTime string    `json:"runningTime,omitempty"`
	Hardware    *Hardware `json:"hardware,omitempty"`
}

type Hardware struct {
	OS             string `json:"os"`
	Arch           string `json:"arch"`
	CPUs           int    `json:"cpus"`
	GPU            string `json:"gpu,omitempty"`
	GPUMemoryBytes uint64 `json:"gpuMemoryBytes,omitempty"`
}

type Annotation struct {
	Type       string         `json:"@type"`
	Properties map[string]any `json:"properties"`
}

// ParseDocument decodes a serialized Document. Missing lists decode as
// empty and null views are dropped.
func ParseDocument(b []byte) (*Document, error) {
	var d Document
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, err
	}
	if d.Documents == nil {
		d.Documents = []SourceDocument{}
	}
	views := make([]*View, 0, len(d.Views))
	for _, v := range d.Views {
		if v != nil {
			views = append(views, v)
		}
	}
	d.Views = views
	return &d, nil
}

// NextViewID returns an id not used by any view in d.
func (d *Document) NextViewID() string {
	used := make(map[string]bool, len(d.Views))
	for _, v := range d.Views {
		used[v.ID] = true
	}
	for i := len(d.Views); ; i++ {
		id := "v_" + strconv.Itoa(i)
		if !used[id] {
			return id
		}
	}
}

// AddView appends v, assigning an id when v has none.
func (d *Document) AddView(v *View) *View {
	if v.ID == "" {
		v.ID = d.NextViewID()
	}
	if v.Annotations == nil {
		v.Annotations = []Annotation{}
	}
	d.Views = append(d.Views, v)
	return v
}

// View returns the view with the given id.
func (d *Document) View(id string) (*View, bool) {
	for _, v := range d.Views {
		if v.ID == id {
			return v, true
		}
	}
	return nil, false
}

// ViewIDs returns the ids of all views in order.
func (d *Document) ViewIDs() []string {
	out := make([]string, 0, len(d.Views))
	for _, v := range d.Views {
		out = append(out, v.ID)
	}
	return out
}

// Locations lists the non-empty source locations in document order.
func (d *Document) Locations() []string {
	var out []string
	for _, sd := range d.Documents {
		if sd.Properties.Location != "" {
			out = append(out, sd.Properties.Location)
		}
	}
	return out
}

// Serialize encodes d, indented when pretty is set.
func (d *Document) Serialize(pretty bool) ([]byte, error) {
	if pretty {
		return json.MarshalIndent(d, "", "  ")
	}
	return json.Marshal(d)
}
