package filler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xkilldash9x/applyflow/api/schemas"
	"github.com/xkilldash9x/applyflow/internal/config"
)

func testFillConfig() config.FillConfig {
	return config.FillConfig{
		FillDelayMin:           time.Millisecond,
		FillDelayMax:           time.Millisecond,
		DropdownMatchThreshold: 70,
		ComboboxOpenTimeout:    25 * time.Millisecond,
		AddButtonWait:          time.Millisecond,
		ExtractionTimeout:      100 * time.Millisecond,
		MaxSectionEntries:      10,
		SectionPatterns: map[string][]string{
			"experience": {`workExperience-?\d`, `work-experience-?\d`},
			"education":  {`education-?\d`},
		},
		AddButtonSelector: `[data-automation-id="add-button"]`,
		ResumePath:        "/tmp/resume.pdf",
	}
}

// fakeDriver is a scriptable PageDriver. Every method records itself into
// calls and defaults to success; hooks override individual behaviors.
type fakeDriver struct {
	mu    sync.Mutex
	calls []string

	onFill        func(selector, value string) error
	onSelect      func(selector, value string) error
	onSetChecked  func(selector string, checked bool) error
	onCheckRadio  func(selector, value string) error
	onClick       func(selector string) error
	onClickNth    func(selector string, index int) error
	onClickByText func(selector, text string) error
	onSetFiles    func(selector string, paths []string) error
	onWaitVisible func(selector string, timeout time.Duration) error
	onSendKeys    func(selector, keys string) error
	onPressEscape func(selector string) error
	onReadListbox func(selector string) ([]schemas.ListboxOption, error)
}

func (d *fakeDriver) record(call string) {
	d.mu.Lock()
	d.calls = append(d.calls, call)
	d.mu.Unlock()
}

func (d *fakeDriver) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

func (d *fakeDriver) CountPrefix(prefix string) int {
	n := 0
	for _, c := range d.Calls() {
		if len(c) >= len(prefix) && c[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

func (d *fakeDriver) Fill(_ context.Context, selector, value string) error {
	d.record(fmt.Sprintf("fill %s=%s", selector, value))
	if d.onFill != nil {
		return d.onFill(selector, value)
	}
	return nil
}

func (d *fakeDriver) SelectOption(_ context.Context, selector, value string) error {
	d.record(fmt.Sprintf("select %s=%s", selector, value))
	if d.onSelect != nil {
		return d.onSelect(selector, value)
	}
	return nil
}

func (d *fakeDriver) SetChecked(_ context.Context, selector string, checked bool) error {
	d.record(fmt.Sprintf("check %s=%t", selector, checked))
	if d.onSetChecked != nil {
		return d.onSetChecked(selector, checked)
	}
	return nil
}

func (d *fakeDriver) CheckRadio(_ context.Context, selector, value string) error {
	d.record(fmt.Sprintf("radio %s=%s", selector, value))
	if d.onCheckRadio != nil {
		return d.onCheckRadio(selector, value)
	}
	return nil
}

func (d *fakeDriver) Click(_ context.Context, selector string) error {
	d.record(fmt.Sprintf("click %s", selector))
	if d.onClick != nil {
		return d.onClick(selector)
	}
	return nil
}

func (d *fakeDriver) ClickNth(_ context.Context, selector string, index int) error {
	d.record(fmt.Sprintf("clicknth %s[%d]", selector, index))
	if d.onClickNth != nil {
		return d.onClickNth(selector, index)
	}
	return nil
}

func (d *fakeDriver) ClickByText(_ context.Context, selector, text string) error {
	d.record(fmt.Sprintf("clicktext %s=%s", selector, text))
	if d.onClickByText != nil {
		return d.onClickByText(selector, text)
	}
	return nil
}

func (d *fakeDriver) SetFiles(_ context.Context, selector string, paths []string) error {
	d.record(fmt.Sprintf("files %s=%v", selector, paths))
	if d.onSetFiles != nil {
		return d.onSetFiles(selector, paths)
	}
	return nil
}

func (d *fakeDriver) WaitVisible(_ context.Context, selector string, timeout time.Duration) error {
	d.record(fmt.Sprintf("wait %s", selector))
	if d.onWaitVisible != nil {
		return d.onWaitVisible(selector, timeout)
	}
	return nil
}

func (d *fakeDriver) SendKeys(_ context.Context, selector, keys string) error {
	d.record(fmt.Sprintf("keys %s=%s", selector, keys))
	if d.onSendKeys != nil {
		return d.onSendKeys(selector, keys)
	}
	return nil
}

func (d *fakeDriver) PressEscape(_ context.Context, selector string) error {
	d.record(fmt.Sprintf("escape %s", selector))
	if d.onPressEscape != nil {
		return d.onPressEscape(selector)
	}
	return nil
}

func (d *fakeDriver) ReadListboxOptions(_ context.Context, selector string) ([]schemas.ListboxOption, error) {
	d.record(fmt.Sprintf("readlistbox %s", selector))
	if d.onReadListbox != nil {
		return d.onReadListbox(selector)
	}
	return nil, nil
}

var _ schemas.PageDriver = (*fakeDriver)(nil)

// fakeMapper maps every batch by echoing the field label as the value and
// records the narrowed context of each call.
type fakeMapper struct {
	mu       sync.Mutex
	contexts []string

	onMap func(fields []schemas.FormField, textContext string) []schemas.FormField
}

func (m *fakeMapper) MapFields(_ context.Context, fields []schemas.FormField, textContext string) []schemas.FormField {
	m.mu.Lock()
	m.contexts = append(m.contexts, textContext)
	m.mu.Unlock()

	if m.onMap != nil {
		return m.onMap(fields, textContext)
	}
	out := make([]schemas.FormField, len(fields))
	copy(out, fields)
	for i := range out {
		v := out[i].Label
		out[i].MappedValue = &v
	}
	return out
}

func (m *fakeMapper) Contexts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.contexts...)
}

// fakeExtractor replays a scripted sequence of snapshot results.
type fakeExtractor struct {
	mu      sync.Mutex
	results []extractionResult
	count   int
}

type extractionResult struct {
	form *schemas.ExtractedForm
	err  error
}

func (e *fakeExtractor) push(form *schemas.ExtractedForm, err error) {
	e.mu.Lock()
	e.results = append(e.results, extractionResult{form: form, err: err})
	e.mu.Unlock()
}

func (e *fakeExtractor) RequestExtraction(_ context.Context, _ time.Duration) (*schemas.ExtractedForm, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.count++
	if len(e.results) == 0 {
		return &schemas.ExtractedForm{}, nil
	}
	next := e.results[0]
	e.results = e.results[1:]
	return next.form, next.err
}

func (e *fakeExtractor) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.count
}

func mapped(selector string, t schemas.FieldType, label, value string) schemas.FormField {
	return schemas.FormField{Selector: selector, Type: t, Label: label, MappedValue: &value}
}
