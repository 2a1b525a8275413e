// Package profile loads the candidate profile from disk and projects it
// into text contexts for reasoning calls.
package profile

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/applyflow/api/schemas"
)

// Service owns the loaded profile. Reload swaps the whole profile
// atomically; readers always see a consistent snapshot.
type Service struct {
	path   string
	logger *zap.Logger

	mu      sync.RWMutex
	profile *schemas.UserProfile
	raw     map[string]any
}

// NewService loads the profile at path. The file must exist and parse.
func NewService(path string, logger *zap.Logger) (*Service, error) {
	if path == "" {
		return nil, fmt.Errorf("profile path is required")
	}
	s := &Service{
		path:   path,
		logger: logger.Named("profile"),
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the profile file from disk.
func (s *Service) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("failed to read profile %s: %w", s.path, err)
	}

	var p schemas.UserProfile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("failed to parse profile %s: %w", s.path, err)
	}

	// A raw tree alongside the typed struct backs dotted-path lookups.
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse profile %s: %w", s.path, err)
	}

	s.mu.Lock()
	s.profile = &p
	s.raw = raw
	s.mu.Unlock()

	s.logger.Info("Profile loaded",
		zap.String("path", s.path),
		zap.Int("experience_entries", len(p.Experience)),
		zap.Int("education_entries", len(p.Education)),
	)
	return nil
}

// Profile returns the current profile snapshot.
func (s *Service) Profile() *schemas.UserProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile
}

// GetField resolves a dotted path like "personal_info.email" or
// "experience.0.company" against the raw profile tree. Numeric segments
// index into lists.
func (s *Service) GetField(path string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var current any = s.raw
	for _, segment := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[segment]
			if !ok {
				return "", false
			}
			current = next
		case []any:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(node) {
				return "", false
			}
			current = node[idx]
		default:
			return "", false
		}
	}

	switch v := current.(type) {
	case nil:
		return "", false
	case string:
		return v, true
	case bool:
		return strconv.FormatBool(v), true
	case map[string]any, []any:
		// Paths must terminate at a scalar.
		return "", false
	default:
		return fmt.Sprint(v), true
	}
}

// PromptContext renders the whole profile as the text context for a
// full-form reasoning call.
func (s *Service) PromptContext() string {
	s.mu.RLock()
	p := s.profile
	s.mu.RUnlock()
	if p == nil {
		return ""
	}

	var b strings.Builder

	b.WriteString("## Personal Information\n")
	fmt.Fprintf(&b, "Name: %s\nEmail: %s\nPhone: %s\n", p.PersonalInfo.FullName(), p.PersonalInfo.Email, p.PersonalInfo.Phone)
	if p.PersonalInfo.City != "" {
		fmt.Fprintf(&b, "Location: %s, %s %s, %s\n", p.PersonalInfo.City, p.PersonalInfo.State, p.PersonalInfo.ZipCode, p.PersonalInfo.Country)
	}
	if p.PersonalInfo.LinkedIn != "" {
		fmt.Fprintf(&b, "LinkedIn: %s\n", p.PersonalInfo.LinkedIn)
	}
	if p.PersonalInfo.GitHub != "" {
		fmt.Fprintf(&b, "GitHub: %s\n", p.PersonalInfo.GitHub)
	}

	if len(p.Experience) > 0 {
		b.WriteString("\n## Work Experience\n")
		for i := range p.Experience {
			entry := schemas.ProfileEntry{Kind: schemas.EntryExperience, Experience: &p.Experience[i]}
			fmt.Fprintf(&b, "### Entry %d\n%s", i+1, entry.Context())
		}
	}

	if len(p.Education) > 0 {
		b.WriteString("\n## Education\n")
		for i := range p.Education {
			entry := schemas.ProfileEntry{Kind: schemas.EntryEducation, Education: &p.Education[i]}
			fmt.Fprintf(&b, "### Entry %d\n%s", i+1, entry.Context())
		}
	}

	if len(p.Skills.Languages)+len(p.Skills.Frameworks)+len(p.Skills.Tools) > 0 {
		b.WriteString("\n## Skills\n")
		writeList(&b, "Languages", p.Skills.Languages)
		writeList(&b, "Frameworks", p.Skills.Frameworks)
		writeList(&b, "Tools", p.Skills.Tools)
	}

	if len(p.Certifications) > 0 {
		b.WriteString("\n## Certifications\n")
		for _, c := range p.Certifications {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}

	if len(p.Languages) > 0 {
		b.WriteString("\n## Languages\n")
		for _, l := range p.Languages {
			fmt.Fprintf(&b, "- %s (%s)\n", l.Language, l.Proficiency)
		}
	}

	b.WriteString("\n## Work Authorization\n")
	fmt.Fprintf(&b, "Authorized to work in the US: %t\nRequires sponsorship: %t\n",
		p.WorkAuthorization.AuthorizedUS, p.WorkAuthorization.RequiresSponsorship)

	if p.Preferences.DesiredSalary != "" || p.Preferences.NoticePeriod != "" {
		b.WriteString("\n## Preferences\n")
		if p.Preferences.DesiredSalary != "" {
			fmt.Fprintf(&b, "Desired salary: %s\n", p.Preferences.DesiredSalary)
		}
		if p.Preferences.NoticePeriod != "" {
			fmt.Fprintf(&b, "Notice period: %s\n", p.Preferences.NoticePeriod)
		}
		fmt.Fprintf(&b, "Willing to relocate: %t\n", p.Preferences.WillingToRelocate)
	}

	if len(p.CommonAnswers) > 0 {
		b.WriteString("\n## Common Answers\n")
		for q, a := range p.CommonAnswers {
			fmt.Fprintf(&b, "Q: %s\nA: %s\n", q, a)
		}
	}

	return b.String()
}

func writeList(b *strings.Builder, label string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "%s: %s\n", label, strings.Join(items, ", "))
}
