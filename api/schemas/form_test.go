package schemas

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestFillOutcomeIsStrictlyAdditive(t *testing.T) {
	var o FillOutcome

	o.RecordFill()
	o.RecordFill()
	o.RecordFailure("#email: element detached")
	o.RecordError("no new fields after add")
	o.Merge(FillOutcome{Filled: 3, Failed: 1, Errors: []string{"#phone: timeout"}})

	want := FillOutcome{
		Filled: 5,
		Failed: 2,
		Errors: []string{
			"#email: element detached",
			"no new fields after add",
			"#phone: timeout",
		},
	}
	if diff := cmp.Diff(want, o); diff != "" {
		t.Errorf("outcome mismatch (-want +got):\n%s", diff)
	}
}

func TestRecordErrorDoesNotCountAsFailure(t *testing.T) {
	var o FillOutcome
	o.RecordError("diagnostic only")

	assert.Equal(t, 0, o.Failed)
	assert.Equal(t, 0, o.Filled)
	assert.Len(t, o.Errors, 1)
}

func TestFormFieldValue(t *testing.T) {
	var f FormField
	assert.False(t, f.IsMapped())
	assert.Equal(t, "", f.Value())

	v := "Ada"
	f.MappedValue = &v
	assert.True(t, f.IsMapped())
	assert.Equal(t, "Ada", f.Value())

	empty := ""
	f.MappedValue = &empty
	assert.True(t, f.IsMapped(), "an explicitly empty mapping is still a mapping")
}

func TestExtractedFormSelectors(t *testing.T) {
	form := ExtractedForm{Fields: []FormField{
		{Selector: "#a"}, {Selector: "#b"}, {Selector: "#a"},
	}}

	want := []string{"#a", "#b", "#a"}
	if diff := cmp.Diff(want, form.Selectors()); diff != "" {
		t.Errorf("selectors mismatch (-want +got):\n%s", diff)
	}
}
