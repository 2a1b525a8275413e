// Package analyzer maps extracted form controls to candidate profile
// values through the reasoning service.
package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/applyflow/api/schemas"
	"github.com/xkilldash9x/applyflow/internal/llmutil"
	"github.com/xkilldash9x/applyflow/internal/profile"
)

const formAnalysisSystemPrompt = `You are an assistant that maps job application form fields to a candidate's profile data.

You receive a JSON list of form fields (selector, type, label, required, options) and the candidate's profile as text. For every field, decide which profile value belongs in it.

Respond with ONLY a JSON object of this shape:
{
  "fields": [
    {
      "selector": "<the field's selector, unchanged>",
      "mapped_value": "<the literal value to enter, or null if no profile data fits>",
      "confidence": <0.0-1.0>,
      "profile_path": "<dotted profile path the value came from, e.g. personal_info.email>"
    }
  ],
  "unmapped_labels": ["<labels of fields you could not map>"]
}

Rules:
- Use values EXACTLY as they appear in the profile. Do not invent data.
- For select/combobox fields pick the option text closest to the profile value; return the option text, not its value attribute.
- For checkbox fields return "true" or "false".
- For date fields match the format the field's label or placeholder suggests.
- Leave a field unmapped (mapped_value null) rather than guessing.`

// sectionProfileKeys maps normalized section name keywords to the profile
// collection feeding that section.
var sectionProfileKeys = map[string]string{
	"work experience": "experience",
	"experience":      "experience",
	"employment":      "experience",
	"education":       "education",
	"certification":   "certifications",
	"license":         "certifications",
	"language":        "languages",
}

// Service is the field-mapping client: one reasoning call in, one mapped
// batch out.
type Service struct {
	llm         schemas.LLMClient
	profiles    *profile.Service
	logger      *zap.Logger
	temperature float32
}

// New creates the analyzer. All dependencies are required.
func New(llm schemas.LLMClient, profiles *profile.Service, temperature float32, logger *zap.Logger) (*Service, error) {
	if llm == nil {
		return nil, fmt.Errorf("analyzer requires an LLM client")
	}
	if profiles == nil {
		return nil, fmt.Errorf("analyzer requires a profile service")
	}
	if logger == nil {
		return nil, fmt.Errorf("analyzer requires a logger")
	}
	return &Service{
		llm:         llm,
		profiles:    profiles,
		logger:      logger.Named("analyzer"),
		temperature: temperature,
	}, nil
}

// llmFieldMapping is one field verdict in the reasoning response.
type llmFieldMapping struct {
	Selector    string  `json:"selector"`
	MappedValue *string `json:"mapped_value"`
	Confidence  float64 `json:"confidence"`
	ProfilePath string  `json:"profile_path"`
}

type llmAnalysisResponse struct {
	Fields         []llmFieldMapping `json:"fields"`
	UnmappedLabels []string          `json:"unmapped_labels"`
}

// AnalyzeForm maps a full snapshot against the whole profile and resolves
// each repeatable section to its profile collection. A failed or
// unparsable reasoning call degrades to an all-unmapped analysis instead
// of an error; the run continues with whatever was salvageable.
func (s *Service) AnalyzeForm(ctx context.Context, form *schemas.ExtractedForm) (*schemas.FormAnalysis, error) {
	mapped, unmapped := s.mapBatch(ctx, form.Fields, s.profiles.PromptContext())

	analysis := &schemas.FormAnalysis{
		Fields:         mapped,
		UnmappedLabels: unmapped,
	}

	for _, section := range form.Sections {
		resolved := section
		resolved.ProfileKey = ResolveSectionKey(section.Name)
		if resolved.ProfileKey == "" {
			s.logger.Warn("Repeatable section has no matching profile collection; it will be skipped",
				zap.String("section", section.Name))
		}
		analysis.Sections = append(analysis.Sections, resolved)
	}

	return analysis, nil
}

// MapFields maps one batch of controls against a narrow text context.
// Used for repeatable-section entries, where the context is a single
// profile entry.
func (s *Service) MapFields(ctx context.Context, fields []schemas.FormField, textContext string) []schemas.FormField {
	mapped, _ := s.mapBatch(ctx, fields, textContext)
	return mapped
}

// mapBatch performs one reasoning round trip. On any failure the input
// fields come back unmapped with their labels listed.
func (s *Service) mapBatch(ctx context.Context, fields []schemas.FormField, textContext string) ([]schemas.FormField, []string) {
	if len(fields) == 0 {
		return nil, nil
	}

	userPrompt, err := s.buildUserPrompt(fields, textContext)
	if err != nil {
		s.logger.Error("Failed to build mapping prompt", zap.Error(err))
		return degrade(fields)
	}

	raw, err := s.llm.GenerateResponse(ctx, schemas.GenerationRequest{
		SystemPrompt: formAnalysisSystemPrompt,
		UserPrompt:   userPrompt,
		Options: schemas.GenerationOptions{
			Temperature:     s.temperature,
			ForceJSONFormat: true,
		},
	})
	if err != nil {
		s.logger.Error("Reasoning call failed; degrading to unmapped batch", zap.Error(err))
		return degrade(fields)
	}

	parsed, err := llmutil.ParseJSONResponse[llmAnalysisResponse](raw)
	if err != nil {
		s.logger.Error("Unparsable reasoning response; degrading to unmapped batch", zap.Error(err))
		return degrade(fields)
	}

	return s.applyMappings(fields, parsed), nil
}

func (s *Service) buildUserPrompt(fields []schemas.FormField, textContext string) (string, error) {
	descriptors := make([]map[string]any, 0, len(fields))
	for i := range fields {
		f := &fields[i]
		d := map[string]any{
			"selector": f.Selector,
			"type":     string(f.Type),
			"label":    f.Label,
			"required": f.Required,
		}
		if len(f.Options) > 0 {
			texts := make([]string, 0, len(f.Options))
			for _, o := range f.Options {
				texts = append(texts, o.Text)
			}
			d["options"] = texts
		}
		descriptors = append(descriptors, d)
	}

	fieldsJSON, err := json.MarshalIndent(descriptors, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal field descriptors: %w", err)
	}

	return fmt.Sprintf("## Form Fields\n%s\n\n## Candidate Profile\n%s", fieldsJSON, textContext), nil
}

// applyMappings merges the reasoning verdicts back onto the extracted
// fields by selector. Fields the response ignored stay unmapped.
func (s *Service) applyMappings(fields []schemas.FormField, resp *llmAnalysisResponse) []schemas.FormField {
	bySelector := make(map[string]*llmFieldMapping, len(resp.Fields))
	for i := range resp.Fields {
		bySelector[resp.Fields[i].Selector] = &resp.Fields[i]
	}

	out := make([]schemas.FormField, len(fields))
	var unmappedCount int
	for i := range fields {
		out[i] = fields[i]
		m, ok := bySelector[out[i].Selector]
		if !ok {
			unmappedCount++
			continue
		}
		out[i].Confidence = m.Confidence
		out[i].ProfilePath = m.ProfilePath
		if m.MappedValue != nil && *m.MappedValue != "" {
			out[i].MappedValue = m.MappedValue
		} else if m.ProfilePath != "" {
			// The model sometimes names the path without the value.
			if v, found := s.profiles.GetField(m.ProfilePath); found && v != "" {
				out[i].MappedValue = &v
			} else {
				unmappedCount++
			}
		} else {
			unmappedCount++
		}
	}

	s.logger.Info("Mapping batch complete",
		zap.Int("fields", len(fields)),
		zap.Int("unmapped", unmappedCount),
	)
	return out
}

// degrade returns the batch untouched with every label unmapped.
func degrade(fields []schemas.FormField) ([]schemas.FormField, []string) {
	out := make([]schemas.FormField, len(fields))
	labels := make([]string, 0, len(fields))
	for i := range fields {
		out[i] = fields[i]
		out[i].MappedValue = nil
		if fields[i].Label != "" {
			labels = append(labels, fields[i].Label)
		}
	}
	return out, labels
}

// ResolveSectionKey maps a section's display name to the profile
// collection it draws from. Empty means unresolved.
func ResolveSectionKey(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return ""
	}
	if key, ok := sectionProfileKeys[normalized]; ok {
		return key
	}
	for keyword, key := range sectionProfileKeys {
		if strings.Contains(normalized, keyword) {
			return key
		}
	}
	return ""
}
