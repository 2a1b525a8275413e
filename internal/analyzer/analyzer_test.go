package analyzer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/applyflow/api/schemas"
	"github.com/xkilldash9x/applyflow/internal/profile"
)

// mockLLMClient is a hand-rolled mock for schemas.LLMClient.
type mockLLMClient struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	calls     []schemas.GenerationRequest
}

func (m *mockLLMClient) GenerateResponse(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)
	idx := len(m.calls) - 1
	var err error
	if idx < len(m.errs) {
		err = m.errs[idx]
	}
	if err != nil {
		return "", err
	}
	if idx < len(m.responses) {
		return m.responses[idx], nil
	}
	return "{}", nil
}

func (m *mockLLMClient) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

const analyzerProfileYAML = `
personal_info:
  first_name: Ada
  last_name: Lovelace
  email: ada@example.com
  phone: "555-0100"
experience:
  - company: Analytical Engines Ltd
    title: Staff Engineer
education:
  - institution: University of London
    degree: BSc
`

func newTestProfiles(t *testing.T) *profile.Service {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte(analyzerProfileYAML), 0o600))
	svc, err := profile.NewService(path, zap.NewNop())
	require.NoError(t, err)
	return svc
}

func newTestAnalyzer(t *testing.T, llm schemas.LLMClient) *Service {
	t.Helper()
	svc, err := New(llm, newTestProfiles(t), 0.1, zap.NewNop())
	require.NoError(t, err)
	return svc
}

func TestNewValidatesDependencies(t *testing.T) {
	profiles := newTestProfiles(t)

	_, err := New(nil, profiles, 0, zap.NewNop())
	assert.Error(t, err)

	_, err = New(&mockLLMClient{}, nil, 0, zap.NewNop())
	assert.Error(t, err)

	_, err = New(&mockLLMClient{}, profiles, 0, nil)
	assert.Error(t, err)
}

func TestAnalyzeFormMapsFields(t *testing.T) {
	llm := &mockLLMClient{responses: []string{`{
		"fields": [
			{"selector": "#email", "mapped_value": "ada@example.com", "confidence": 0.95, "profile_path": "personal_info.email"},
			{"selector": "#nickname", "mapped_value": null, "confidence": 0, "profile_path": ""}
		],
		"unmapped_labels": ["Nickname"]
	}`}}
	svc := newTestAnalyzer(t, llm)

	form := &schemas.ExtractedForm{
		URL: "https://jobs.example.com/apply",
		Fields: []schemas.FormField{
			{Selector: "#email", Type: schemas.FieldEmail, Label: "Email"},
			{Selector: "#nickname", Type: schemas.FieldText, Label: "Nickname"},
		},
		Sections: []schemas.RepeatableSection{
			{Name: "Work Experience", ExistingEntries: 1},
			{Name: "Hobbies", ExistingEntries: 0},
		},
	}

	analysis, err := svc.AnalyzeForm(context.Background(), form)
	require.NoError(t, err)
	require.Len(t, analysis.Fields, 2)

	assert.True(t, analysis.Fields[0].IsMapped())
	assert.Equal(t, "ada@example.com", analysis.Fields[0].Value())
	assert.Equal(t, "personal_info.email", analysis.Fields[0].ProfilePath)
	assert.False(t, analysis.Fields[1].IsMapped())
	assert.Equal(t, []string{"Nickname"}, analysis.UnmappedLabels)

	require.Len(t, analysis.Sections, 2)
	assert.Equal(t, "experience", analysis.Sections[0].ProfileKey)
	assert.Empty(t, analysis.Sections[1].ProfileKey, "unknown section names stay unresolved")
}

func TestAnalyzeFormBackfillsFromProfilePath(t *testing.T) {
	// The model named the profile path but omitted the literal value.
	llm := &mockLLMClient{responses: []string{`{
		"fields": [{"selector": "#phone", "mapped_value": null, "confidence": 0.8, "profile_path": "personal_info.phone"}]
	}`}}
	svc := newTestAnalyzer(t, llm)

	form := &schemas.ExtractedForm{
		Fields: []schemas.FormField{{Selector: "#phone", Type: schemas.FieldTel, Label: "Phone"}},
	}

	analysis, err := svc.AnalyzeForm(context.Background(), form)
	require.NoError(t, err)
	require.True(t, analysis.Fields[0].IsMapped())
	assert.Equal(t, "555-0100", analysis.Fields[0].Value())
}

func TestAnalyzeFormDegradesOnLLMError(t *testing.T) {
	llm := &mockLLMClient{errs: []error{errors.New("boom")}}
	svc := newTestAnalyzer(t, llm)

	form := &schemas.ExtractedForm{
		Fields: []schemas.FormField{
			{Selector: "#a", Label: "First Name"},
			{Selector: "#b", Label: "Last Name"},
		},
	}

	analysis, err := svc.AnalyzeForm(context.Background(), form)
	require.NoError(t, err, "a failed reasoning call must not abort the run")
	for _, f := range analysis.Fields {
		assert.False(t, f.IsMapped())
	}
	assert.ElementsMatch(t, []string{"First Name", "Last Name"}, analysis.UnmappedLabels)
}

func TestAnalyzeFormDegradesOnGarbageResponse(t *testing.T) {
	llm := &mockLLMClient{responses: []string{"I am unable to help with that."}}
	svc := newTestAnalyzer(t, llm)

	form := &schemas.ExtractedForm{
		Fields: []schemas.FormField{{Selector: "#a", Label: "City"}},
	}

	analysis, err := svc.AnalyzeForm(context.Background(), form)
	require.NoError(t, err)
	assert.False(t, analysis.Fields[0].IsMapped())
	assert.Equal(t, []string{"City"}, analysis.UnmappedLabels)
}

func TestMapFieldsUsesNarrowContext(t *testing.T) {
	llm := &mockLLMClient{responses: []string{`{
		"fields": [{"selector": "#company-1", "mapped_value": "Analytical Engines Ltd", "confidence": 0.9, "profile_path": "experience.0.company"}]
	}`}}
	svc := newTestAnalyzer(t, llm)

	fields := []schemas.FormField{{Selector: "#company-1", Type: schemas.FieldText, Label: "Company"}}
	mapped := svc.MapFields(context.Background(), fields, "Company: Analytical Engines Ltd\n")

	require.Len(t, mapped, 1)
	assert.Equal(t, "Analytical Engines Ltd", mapped[0].Value())

	require.Equal(t, 1, llm.callCount())
	assert.Contains(t, llm.calls[0].UserPrompt, "Company: Analytical Engines Ltd")
	assert.True(t, llm.calls[0].Options.ForceJSONFormat)
}

func TestMapFieldsEmptyBatch(t *testing.T) {
	llm := &mockLLMClient{}
	svc := newTestAnalyzer(t, llm)

	assert.Nil(t, svc.MapFields(context.Background(), nil, "ctx"))
	assert.Equal(t, 0, llm.callCount(), "no reasoning call for an empty batch")
}

func TestResolveSectionKey(t *testing.T) {
	testCases := map[string]string{
		"Work Experience":        "experience",
		"work experience":        "experience",
		"Employment History":     "experience",
		"Education":              "education",
		"Education History":      "education",
		"Certifications":         "certifications",
		"Licenses & Certs":       "certifications",
		"Languages":              "languages",
		"Language Proficiency":   "languages",
		"References":             "",
		"":                       "",
	}
	for name, want := range testCases {
		assert.Equal(t, want, ResolveSectionKey(name), "section %q", name)
	}
}
