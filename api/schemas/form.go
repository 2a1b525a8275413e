package schemas

// FieldType enumerates the control types the page instrumentation reports.
type FieldType string

const (
	FieldText     FieldType = "text"
	FieldEmail    FieldType = "email"
	FieldTel      FieldType = "tel"
	FieldSelect   FieldType = "select"
	FieldCombobox FieldType = "combobox"
	FieldCheckbox FieldType = "checkbox"
	FieldRadio    FieldType = "radio"
	FieldFile     FieldType = "file"
	FieldTextarea FieldType = "textarea"
)

// SelectOption is one (value, text) pair of a select or combobox option list.
type SelectOption struct {
	Value string `json:"value"`
	Text  string `json:"text"`
}

// FormField describes one extracted control. After analysis the mapping
// fields (MappedValue, Confidence, ProfilePath) are populated; a nil
// MappedValue means the field was left unmapped.
type FormField struct {
	Selector        string         `json:"selector"`
	Type            FieldType      `json:"type"`
	Label           string         `json:"label,omitempty"`
	Required        bool           `json:"required,omitempty"`
	Options         []SelectOption `json:"options,omitempty"`
	ListboxSelector string         `json:"listbox_selector,omitempty"`
	// OptionsDeferred marks controls whose option set only materializes
	// after the control is opened.
	OptionsDeferred bool     `json:"options_deferred,omitempty"`
	MappedValue     *string  `json:"mapped_value,omitempty"`
	Confidence      float64  `json:"confidence,omitempty"`
	ProfilePath     string   `json:"profile_path,omitempty"`
}

// IsMapped reports whether analysis assigned this field a value.
func (f *FormField) IsMapped() bool {
	return f.MappedValue != nil
}

// Value returns the mapped value, or "" when unmapped.
func (f *FormField) Value() string {
	if f.MappedValue == nil {
		return ""
	}
	return *f.MappedValue
}

// RepeatableSection is a cloned group of controls added on demand via an
// "Add" control (work experience, education and similar blocks).
type RepeatableSection struct {
	Name string `json:"name"`
	// AddButtonIndex addresses the Add control by position among
	// same-role controls; AddButtonSelector is the fallback locator.
	AddButtonIndex    *int        `json:"add_button_index,omitempty"`
	AddButtonSelector string      `json:"add_button_selector,omitempty"`
	ExistingEntries   int         `json:"existing_entries"`
	Fields            []FormField `json:"fields,omitempty"`
	// ProfileKey is the resolved profile collection feeding this section.
	// Empty means unresolved; the section is skipped entirely.
	ProfileKey string `json:"profile_key,omitempty"`
}

// ExtractedForm is the canonical snapshot the in-page agent produces.
type ExtractedForm struct {
	URL      string              `json:"url"`
	Platform string              `json:"platform,omitempty"`
	Title    string              `json:"title,omitempty"`
	Fields   []FormField         `json:"fields"`
	Sections []RepeatableSection `json:"sections,omitempty"`
}

// Selectors returns the selector of every field in the snapshot.
func (e *ExtractedForm) Selectors() []string {
	out := make([]string, 0, len(e.Fields))
	for i := range e.Fields {
		out = append(out, e.Fields[i].Selector)
	}
	return out
}

// FormAnalysis is the reasoning service's verdict over one snapshot.
type FormAnalysis struct {
	Fields         []FormField         `json:"fields"`
	Sections       []RepeatableSection `json:"sections,omitempty"`
	UnmappedLabels []string            `json:"unmapped_labels,omitempty"`
}

// FillOutcome aggregates per-field results across one fill command.
// Counters and the error list are strictly additive; nothing resets them
// mid-run.
type FillOutcome struct {
	Filled int      `json:"filled"`
	Failed int      `json:"failed"`
	Errors []string `json:"errors,omitempty"`
}

// RecordFill counts one successfully filled field.
func (o *FillOutcome) RecordFill() { o.Filled++ }

// RecordFailure counts one failed field and appends its error string.
func (o *FillOutcome) RecordFailure(msg string) {
	o.Failed++
	o.Errors = append(o.Errors, msg)
}

// RecordError appends an error string without touching the counters. Used
// for structural conditions that are not attributable to a single field.
func (o *FillOutcome) RecordError(msg string) {
	o.Errors = append(o.Errors, msg)
}

// Merge folds another outcome into this one.
func (o *FillOutcome) Merge(other FillOutcome) {
	o.Filled += other.Filled
	o.Failed += other.Failed
	o.Errors = append(o.Errors, other.Errors...)
}
