package filler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/applyflow/api/schemas"
	"github.com/xkilldash9x/applyflow/internal/matcher"
)

// defaultListboxSelector locates the option container when the snapshot
// did not record one for the control.
const defaultListboxSelector = `[role="listbox"]`

// listboxOptionRole scopes option clicks to the open container.
const listboxOptionRole = `[role="option"]`

// comboboxSettleDelay lets the widget react after opening and after an
// option click before the next action.
const comboboxSettleDelay = 200 * time.Millisecond

// comboboxState tracks the multi-step open protocol for dynamic list
// controls.
type comboboxState int

const (
	comboClosed comboboxState = iota
	comboOpening
	comboAwaitingListbox
	comboTypingProbe
	comboOpen
	comboFailed
)

// fillCombobox drives the interactive protocol a custom dropdown needs:
// click to open, wait for the listbox, fall back to a typing probe if it
// never appears, read the live options, match, click the winner.
func (e *Executor) fillCombobox(ctx context.Context, f *schemas.FormField) error {
	value := f.Value()
	listbox := f.ListboxSelector
	if listbox == "" {
		listbox = defaultListboxSelector
	}

	state := comboClosed
	probed := false

	for state != comboOpen {
		switch state {
		case comboClosed:
			if err := e.driver.Click(ctx, f.Selector); err != nil {
				return fmt.Errorf("combobox trigger click failed: %w", err)
			}
			state = comboOpening

		case comboOpening, comboTypingProbe:
			state = comboAwaitingListbox

		case comboAwaitingListbox:
			if err := e.driver.WaitVisible(ctx, listbox, e.cfg.ComboboxOpenTimeout); err == nil {
				state = comboOpen
				break
			}
			if probed {
				state = comboFailed
				break
			}
			// Typing probe: some widgets only populate their listbox
			// once the user starts typing.
			probed = true
			e.logger.Debug("Listbox did not appear; probing with first character",
				zap.String("selector", f.Selector))
			if value != "" {
				if err := e.driver.SendKeys(ctx, f.Selector, value[:1]); err != nil {
					return fmt.Errorf("combobox typing probe failed: %w", err)
				}
			}
			state = comboTypingProbe

		case comboFailed:
			return fmt.Errorf("listbox %q never became visible for combobox %q", listbox, f.Selector)
		}
	}

	if err := sleepCtx(ctx, comboboxSettleDelay); err != nil {
		return err
	}

	// Deferred or empty option sets are read live from the now-open
	// container; otherwise the statically extracted options serve.
	options := f.Options
	var live []schemas.ListboxOption
	if f.OptionsDeferred || len(options) == 0 {
		var err error
		live, err = e.driver.ReadListboxOptions(ctx, listbox)
		if err != nil {
			e.dismiss(ctx, f.Selector)
			return fmt.Errorf("failed to read live options: %w", err)
		}
		options = make([]schemas.SelectOption, len(live))
		for i, o := range live {
			options[i] = schemas.SelectOption{Value: o.Value, Text: o.Text}
		}
	}

	matched, ok := matcher.Match(value, options, e.cfg.DropdownMatchThreshold)
	if !ok {
		e.dismiss(ctx, f.Selector)
		return fmt.Errorf("no combobox option matched %q among %d candidates", value, len(options))
	}

	if err := e.clickMatchedOption(ctx, listbox, live, options, matched); err != nil {
		e.dismiss(ctx, f.Selector)
		return err
	}

	return sleepCtx(ctx, comboboxSettleDelay)
}

// clickMatchedOption locates the live option element whose resolved value
// or visible text equals the match and clicks it, falling back to a
// text-content click when the element cannot be addressed positionally.
func (e *Executor) clickMatchedOption(ctx context.Context, listbox string, live []schemas.ListboxOption, options []schemas.SelectOption, matched string) error {
	optionSelector := listbox + " " + listboxOptionRole

	displayText := matched
	for _, o := range options {
		if o.Value == matched {
			displayText = o.Text
			break
		}
	}

	for _, o := range live {
		if o.Value == matched || o.Text == matched {
			if err := e.driver.ClickNth(ctx, optionSelector, o.Index); err == nil {
				return nil
			}
			// The DOM may have shifted since the options were read; try
			// the text locator before giving up.
			break
		}
	}

	if err := e.driver.ClickByText(ctx, optionSelector, displayText); err != nil {
		return fmt.Errorf("failed to click matched option %q: %w", displayText, err)
	}
	return nil
}

// dismiss sends Escape to close an abandoned widget; a failure here is
// logged and swallowed since the field already failed.
func (e *Executor) dismiss(ctx context.Context, selector string) {
	if err := e.driver.PressEscape(ctx, selector); err != nil {
		e.logger.Debug("Failed to dismiss combobox", zap.String("selector", selector), zap.Error(err))
	}
}
