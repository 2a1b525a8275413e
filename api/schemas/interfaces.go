package schemas

import (
	"context"
	"time"
)

// GenerationOptions tunes a single reasoning call.
type GenerationOptions struct {
	Temperature     float32
	ForceJSONFormat bool
}

// GenerationRequest is the provider-agnostic input to the reasoning service.
type GenerationRequest struct {
	SystemPrompt string
	UserPrompt   string
	Options      GenerationOptions
}

// LLMClient abstracts the natural-language reasoning backend.
type LLMClient interface {
	GenerateResponse(ctx context.Context, req GenerationRequest) (string, error)
}

// ListboxOption is one live option element read from an open listbox,
// with its resolved value and position among siblings.
type ListboxOption struct {
	Value string `json:"value"`
	Text  string `json:"text"`
	Index int    `json:"index"`
}

// PageDriver executes concrete actions against the live page over the
// remote automation protocol. Selectors are CSS.
type PageDriver interface {
	// Fill sets the value of a text-like control and fires input events.
	Fill(ctx context.Context, selector, value string) error
	// SelectOption picks a native <select> option by value.
	SelectOption(ctx context.Context, selector, value string) error
	// SetChecked checks or unchecks a checkbox.
	SetChecked(ctx context.Context, selector string, checked bool) error
	// CheckRadio checks the radio in a group whose value attribute matches.
	CheckRadio(ctx context.Context, selector, value string) error
	// Click clicks the first element matching selector.
	Click(ctx context.Context, selector string) error
	// ClickNth clicks the index-th element matching selector.
	ClickNth(ctx context.Context, selector string, index int) error
	// ClickByText clicks the first matching element whose trimmed text
	// content equals text.
	ClickByText(ctx context.Context, selector, text string) error
	// SetFiles attaches local files to a file input.
	SetFiles(ctx context.Context, selector string, paths []string) error
	// WaitVisible blocks until the selector is visible or the timeout
	// elapses.
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	// SendKeys types keys into the element.
	SendKeys(ctx context.Context, selector, keys string) error
	// PressEscape sends an Escape keypress to dismiss an open widget.
	PressEscape(ctx context.Context, selector string) error
	// ReadListboxOptions reads the live option elements under an open
	// listbox container.
	ReadListboxOptions(ctx context.Context, listboxSelector string) ([]ListboxOption, error)
}

// JobRepository persists job listings and application outcomes. The fill
// engine itself is stateless; persistence is optional at runtime.
type JobRepository interface {
	UpsertJob(ctx context.Context, job JobListing) error
	RecordApplication(ctx context.Context, app Application) error
	ListJobs(ctx context.Context, status JobStatus) ([]JobListing, error)
}
