package schemas

import (
	"fmt"
	"strings"
)

// UserProfile is the stored candidate profile, loaded from YAML.
type UserProfile struct {
	PersonalInfo      PersonalInfo      `yaml:"personal_info" json:"personal_info"`
	Education         []EducationEntry  `yaml:"education" json:"education"`
	Experience        []ExperienceEntry `yaml:"experience" json:"experience"`
	Projects          []Project         `yaml:"projects" json:"projects,omitempty"`
	Skills            Skills            `yaml:"skills" json:"skills"`
	Publications      []Publication     `yaml:"publications" json:"publications,omitempty"`
	Languages         []LanguageEntry   `yaml:"languages" json:"languages,omitempty"`
	Certifications    []string          `yaml:"certifications" json:"certifications,omitempty"`
	Demographics      Demographics      `yaml:"demographics" json:"demographics,omitempty"`
	WorkAuthorization WorkAuthorization `yaml:"work_authorization" json:"work_authorization"`
	Preferences       Preferences       `yaml:"preferences" json:"preferences,omitempty"`
	CommonAnswers     map[string]string `yaml:"common_answers" json:"common_answers,omitempty"`
}

type PersonalInfo struct {
	FirstName string `yaml:"first_name" json:"first_name"`
	LastName  string `yaml:"last_name" json:"last_name"`
	Email     string `yaml:"email" json:"email"`
	Phone     string `yaml:"phone" json:"phone"`
	Street    string `yaml:"street" json:"street,omitempty"`
	City      string `yaml:"city" json:"city,omitempty"`
	State     string `yaml:"state" json:"state,omitempty"`
	ZipCode   string `yaml:"zip_code" json:"zip_code,omitempty"`
	Country   string `yaml:"country" json:"country,omitempty"`
	LinkedIn  string `yaml:"linkedin" json:"linkedin,omitempty"`
	GitHub    string `yaml:"github" json:"github,omitempty"`
	Website   string `yaml:"website" json:"website,omitempty"`
}

type EducationEntry struct {
	Institution  string `yaml:"institution" json:"institution"`
	Degree       string `yaml:"degree" json:"degree"`
	FieldOfStudy string `yaml:"field_of_study" json:"field_of_study,omitempty"`
	StartDate    string `yaml:"start_date" json:"start_date,omitempty"`
	EndDate      string `yaml:"end_date" json:"end_date,omitempty"`
	GPA          string `yaml:"gpa" json:"gpa,omitempty"`
	Location     string `yaml:"location" json:"location,omitempty"`
}

type ExperienceEntry struct {
	Company     string   `yaml:"company" json:"company"`
	Title       string   `yaml:"title" json:"title"`
	Location    string   `yaml:"location" json:"location,omitempty"`
	StartDate   string   `yaml:"start_date" json:"start_date,omitempty"`
	EndDate     string   `yaml:"end_date" json:"end_date,omitempty"`
	Current     bool     `yaml:"current" json:"current,omitempty"`
	Description string   `yaml:"description" json:"description,omitempty"`
	Skills      []string `yaml:"skills" json:"skills,omitempty"`
}

type Project struct {
	Name         string   `yaml:"name" json:"name"`
	Description  string   `yaml:"description" json:"description,omitempty"`
	URL          string   `yaml:"url" json:"url,omitempty"`
	Technologies []string `yaml:"technologies" json:"technologies,omitempty"`
}

type Skills struct {
	Languages   []string `yaml:"languages" json:"languages,omitempty"`
	Frameworks  []string `yaml:"frameworks" json:"frameworks,omitempty"`
	Tools       []string `yaml:"tools" json:"tools,omitempty"`
	Soft        []string `yaml:"soft" json:"soft,omitempty"`
}

type Publication struct {
	Title   string `yaml:"title" json:"title"`
	Venue   string `yaml:"venue" json:"venue,omitempty"`
	Year    string `yaml:"year" json:"year,omitempty"`
	URL     string `yaml:"url" json:"url,omitempty"`
	Authors string `yaml:"authors" json:"authors,omitempty"`
}

type LanguageEntry struct {
	Language    string `yaml:"language" json:"language"`
	Proficiency string `yaml:"proficiency" json:"proficiency,omitempty"`
}

type Demographics struct {
	Gender         string `yaml:"gender" json:"gender,omitempty"`
	Race           string `yaml:"race" json:"race,omitempty"`
	VeteranStatus  string `yaml:"veteran_status" json:"veteran_status,omitempty"`
	DisabilityStatus string `yaml:"disability_status" json:"disability_status,omitempty"`
}

type WorkAuthorization struct {
	AuthorizedUS        bool `yaml:"authorized_us" json:"authorized_us"`
	RequiresSponsorship bool `yaml:"requires_sponsorship" json:"requires_sponsorship"`
}

type Preferences struct {
	DesiredSalary     string `yaml:"desired_salary" json:"desired_salary,omitempty"`
	WillingToRelocate bool   `yaml:"willing_to_relocate" json:"willing_to_relocate,omitempty"`
	NoticePeriod      string `yaml:"notice_period" json:"notice_period,omitempty"`
	RemotePreference  string `yaml:"remote_preference" json:"remote_preference,omitempty"`
	EarliestStartDate string `yaml:"earliest_start_date" json:"earliest_start_date,omitempty"`
}

// FullName joins the first and last name.
func (p *PersonalInfo) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// EntryKind tags the closed set of repeatable-entry shapes.
type EntryKind string

const (
	EntryExperience    EntryKind = "experience"
	EntryEducation     EntryKind = "education"
	EntryCertification EntryKind = "certification"
	EntryLanguage      EntryKind = "language"
	EntryScalar        EntryKind = "scalar"
)

// ProfileEntry is a tagged union over the shapes a repeatable section can
// draw from. Exactly the variant named by Kind is populated.
type ProfileEntry struct {
	Kind          EntryKind
	Experience    *ExperienceEntry
	Education     *EducationEntry
	Certification string
	Language      *LanguageEntry
	Scalar        string
}

// Context projects the entry into a narrow text block for one reasoning
// call, keeping sibling entries out of the prompt.
func (e ProfileEntry) Context() string {
	switch e.Kind {
	case EntryExperience:
		if e.Experience == nil {
			return ""
		}
		x := e.Experience
		var b strings.Builder
		fmt.Fprintf(&b, "Company: %s\nJob Title: %s\n", x.Company, x.Title)
		if x.Location != "" {
			fmt.Fprintf(&b, "Location: %s\n", x.Location)
		}
		fmt.Fprintf(&b, "Start Date: %s\n", x.StartDate)
		if x.Current {
			b.WriteString("End Date: Present (current role)\n")
		} else {
			fmt.Fprintf(&b, "End Date: %s\n", x.EndDate)
		}
		if x.Description != "" {
			fmt.Fprintf(&b, "Description: %s\n", x.Description)
		}
		return b.String()
	case EntryEducation:
		if e.Education == nil {
			return ""
		}
		x := e.Education
		var b strings.Builder
		fmt.Fprintf(&b, "School: %s\nDegree: %s\n", x.Institution, x.Degree)
		if x.FieldOfStudy != "" {
			fmt.Fprintf(&b, "Field of Study: %s\n", x.FieldOfStudy)
		}
		fmt.Fprintf(&b, "Start Date: %s\nEnd Date: %s\n", x.StartDate, x.EndDate)
		if x.GPA != "" {
			fmt.Fprintf(&b, "GPA: %s\n", x.GPA)
		}
		return b.String()
	case EntryCertification:
		return "Certification: " + e.Certification + "\n"
	case EntryLanguage:
		if e.Language == nil {
			return ""
		}
		return fmt.Sprintf("Language: %s\nProficiency: %s\n", e.Language.Language, e.Language.Proficiency)
	default:
		return e.Scalar
	}
}

// EntriesFor selects the profile collection named by a resolved section
// key and wraps each element in its tagged variant. Unknown keys yield nil.
func (p *UserProfile) EntriesFor(key string) []ProfileEntry {
	switch key {
	case "experience":
		out := make([]ProfileEntry, len(p.Experience))
		for i := range p.Experience {
			out[i] = ProfileEntry{Kind: EntryExperience, Experience: &p.Experience[i]}
		}
		return out
	case "education":
		out := make([]ProfileEntry, len(p.Education))
		for i := range p.Education {
			out[i] = ProfileEntry{Kind: EntryEducation, Education: &p.Education[i]}
		}
		return out
	case "certifications":
		out := make([]ProfileEntry, len(p.Certifications))
		for i, c := range p.Certifications {
			out[i] = ProfileEntry{Kind: EntryCertification, Certification: c}
		}
		return out
	case "languages":
		out := make([]ProfileEntry, len(p.Languages))
		for i := range p.Languages {
			out[i] = ProfileEntry{Kind: EntryLanguage, Language: &p.Languages[i]}
		}
		return out
	default:
		return nil
	}
}
