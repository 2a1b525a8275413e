// Package browser implements the page-automation driver over the Chrome
// DevTools Protocol. It attaches to an already-running browser rather
// than launching one; the user keeps their session and extensions.
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/xkilldash9x/applyflow/api/schemas"
	"github.com/xkilldash9x/applyflow/internal/config"
)

// ErrNotConnected is returned when an action is attempted before a CDP
// connection is established.
var ErrNotConnected = fmt.Errorf("browser driver is not connected to a CDP endpoint")

// Driver drives a live page over CDP. It implements schemas.PageDriver.
type Driver struct {
	cdpURL        string
	actionTimeout time.Duration
	logger        *zap.Logger

	mu          sync.Mutex
	allocCancel context.CancelFunc
	browserCtx  context.Context
	cancel      context.CancelFunc
	pageCtx     context.Context
	pageCancel  context.CancelFunc
}

var _ schemas.PageDriver = (*Driver)(nil)

// New creates a disconnected driver. Call Connect before issuing actions.
func New(cfg config.BrowserConfig, logger *zap.Logger) *Driver {
	return &Driver{
		cdpURL:        cfg.CDPURL,
		actionTimeout: cfg.ActionTimeout,
		logger:        logger.Named("browser"),
	}
}

// Connect dials the CDP endpoint and attaches to the active page target.
// Reconnecting tears down any previous session first.
func (d *Driver) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.closeLocked()

	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), d.cdpURL)
	browserCtx, cancel := chromedp.NewContext(allocCtx)

	// Force the connection to establish so failures surface here, not on
	// the first action.
	dialCtx, dialCancel := context.WithTimeout(browserCtx, 10*time.Second)
	defer dialCancel()
	stop := context.AfterFunc(ctx, dialCancel)
	defer stop()
	if err := chromedp.Run(dialCtx); err != nil {
		allocCancel()
		cancel()
		return fmt.Errorf("failed to connect to CDP at %s: %w", d.cdpURL, err)
	}

	d.allocCancel = allocCancel
	d.browserCtx = browserCtx
	d.cancel = cancel

	if err := d.attachLocked(""); err != nil {
		d.closeLocked()
		return err
	}

	d.logger.Info("Connected to browser over CDP", zap.String("cdp_url", d.cdpURL))
	return nil
}

// AttachToPage re-targets the driver at the first page whose URL contains
// urlSubstring. An empty substring attaches to the first page target.
func (d *Driver) AttachToPage(urlSubstring string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.browserCtx == nil {
		return ErrNotConnected
	}
	return d.attachLocked(urlSubstring)
}

func (d *Driver) attachLocked(urlSubstring string) error {
	infos, err := chromedp.Targets(d.browserCtx)
	if err != nil {
		return fmt.Errorf("failed to list browser targets: %w", err)
	}

	var picked *target.Info
	for _, info := range infos {
		if info.Type != "page" || strings.HasPrefix(info.URL, "devtools://") {
			continue
		}
		if urlSubstring == "" || strings.Contains(info.URL, urlSubstring) {
			picked = info
			break
		}
	}
	if picked == nil {
		return fmt.Errorf("no page target found matching %q", urlSubstring)
	}

	if d.pageCancel != nil {
		d.pageCancel()
	}
	d.pageCtx, d.pageCancel = chromedp.NewContext(d.browserCtx, chromedp.WithTargetID(picked.TargetID))

	d.logger.Info("Attached to page target",
		zap.String("url", picked.URL),
		zap.String("title", picked.Title),
	)
	return nil
}

// Connected reports whether a CDP session is live.
func (d *Driver) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pageCtx != nil
}

// Close tears down the CDP session.
func (d *Driver) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closeLocked()
}

func (d *Driver) closeLocked() {
	if d.pageCancel != nil {
		d.pageCancel()
		d.pageCancel = nil
		d.pageCtx = nil
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
		d.browserCtx = nil
	}
	if d.allocCancel != nil {
		d.allocCancel()
		d.allocCancel = nil
	}
}

// run executes actions against the current page with the configured
// per-action timeout, honoring caller cancellation.
func (d *Driver) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	d.mu.Lock()
	pageCtx := d.pageCtx
	d.mu.Unlock()
	if pageCtx == nil {
		return ErrNotConnected
	}

	opCtx, cancel := context.WithTimeout(pageCtx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(opCtx, actions...)
}

// jsonEncode marshals a value for safe embedding into a JS expression.
func jsonEncode(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

// evalBool evaluates a JS expression expected to report success, turning
// a false result into an error.
func (d *Driver) evalBool(ctx context.Context, script, what, selector string) error {
	var ok bool
	if err := d.run(ctx, d.actionTimeout, chromedp.Evaluate(script, &ok)); err != nil {
		return fmt.Errorf("%s on %q: %w", what, selector, err)
	}
	if !ok {
		return fmt.Errorf("%s on %q: element not found", what, selector)
	}
	return nil
}

// Fill sets the value of a text-like control through the native value
// setter so framework-managed inputs observe the change, then fires
// input and change events.
func (d *Driver) Fill(ctx context.Context, selector, value string) error {
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return false;
		const proto = el.tagName === 'TEXTAREA' ? window.HTMLTextAreaElement.prototype : window.HTMLInputElement.prototype;
		const desc = Object.getOwnPropertyDescriptor(proto, 'value');
		if (desc && desc.set) { desc.set.call(el, %s); } else { el.value = %s; }
		el.dispatchEvent(new Event('input', {bubbles: true}));
		el.dispatchEvent(new Event('change', {bubbles: true}));
		return true;
	})()`, jsonEncode(selector), jsonEncode(value), jsonEncode(value))
	return d.evalBool(ctx, script, "fill", selector)
}

// SelectOption picks a native <select> option by value.
func (d *Driver) SelectOption(ctx context.Context, selector, value string) error {
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return false;
		el.value = %s;
		el.dispatchEvent(new Event('input', {bubbles: true}));
		el.dispatchEvent(new Event('change', {bubbles: true}));
		return el.value === %s;
	})()`, jsonEncode(selector), jsonEncode(value), jsonEncode(value))
	return d.evalBool(ctx, script, "select", selector)
}

// SetChecked checks or unchecks a checkbox, clicking only when the state
// differs so attached handlers fire naturally.
func (d *Driver) SetChecked(ctx context.Context, selector string, checked bool) error {
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return false;
		if (el.checked !== %t) el.click();
		return el.checked === %t;
	})()`, jsonEncode(selector), checked, checked)
	return d.evalBool(ctx, script, "set checked", selector)
}

// CheckRadio checks the radio in the group whose value attribute equals
// value.
func (d *Driver) CheckRadio(ctx context.Context, selector, value string) error {
	script := fmt.Sprintf(`(() => {
		const els = document.querySelectorAll(%s);
		for (const el of els) {
			if (el.value === %s || el.getAttribute('value') === %s) { el.click(); return true; }
		}
		return false;
	})()`, jsonEncode(selector), jsonEncode(value), jsonEncode(value))
	return d.evalBool(ctx, script, "check radio", selector)
}

// Click clicks the first element matching selector.
func (d *Driver) Click(ctx context.Context, selector string) error {
	if err := d.run(ctx, d.actionTimeout, chromedp.Click(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("click on %q: %w", selector, err)
	}
	return nil
}

// ClickNth clicks the index-th element matching selector.
func (d *Driver) ClickNth(ctx context.Context, selector string, index int) error {
	script := fmt.Sprintf(`(() => {
		const els = document.querySelectorAll(%s);
		if (%d < 0 || %d >= els.length) return false;
		els[%d].click();
		return true;
	})()`, jsonEncode(selector), index, index, index)
	return d.evalBool(ctx, script, fmt.Sprintf("click #%d", index), selector)
}

// ClickByText clicks the first matching element whose trimmed text
// content equals text.
func (d *Driver) ClickByText(ctx context.Context, selector, text string) error {
	script := fmt.Sprintf(`(() => {
		const els = document.querySelectorAll(%s);
		const want = %s;
		for (const el of els) {
			if ((el.textContent || '').trim() === want) { el.click(); return true; }
		}
		return false;
	})()`, jsonEncode(selector), jsonEncode(text))
	return d.evalBool(ctx, script, fmt.Sprintf("click by text %q", text), selector)
}

// SetFiles attaches local files to a file input.
func (d *Driver) SetFiles(ctx context.Context, selector string, paths []string) error {
	if err := d.run(ctx, d.actionTimeout, chromedp.SetUploadFiles(selector, paths, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("set files on %q: %w", selector, err)
	}
	return nil
}

// WaitVisible blocks until the selector is visible or timeout elapses.
func (d *Driver) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	if err := d.run(ctx, timeout, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("wait visible %q: %w", selector, err)
	}
	return nil
}

// SendKeys types keys into the element.
func (d *Driver) SendKeys(ctx context.Context, selector, keys string) error {
	if err := d.run(ctx, d.actionTimeout, chromedp.SendKeys(selector, keys, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("send keys to %q: %w", selector, err)
	}
	return nil
}

// PressEscape sends an Escape keypress to dismiss an open widget.
func (d *Driver) PressEscape(ctx context.Context, selector string) error {
	if err := d.run(ctx, d.actionTimeout, chromedp.SendKeys(selector, kb.Escape, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("escape on %q: %w", selector, err)
	}
	return nil
}

// ReadListboxOptions reads the live option elements under an open listbox
// container. Each option's value resolves through the attribute fallback
// chain: data-value, value, id, then visible text.
func (d *Driver) ReadListboxOptions(ctx context.Context, listboxSelector string) ([]schemas.ListboxOption, error) {
	script := fmt.Sprintf(`(() => {
		const box = document.querySelector(%s);
		if (!box) return [];
		let els = box.querySelectorAll('[role="option"]');
		if (els.length === 0) els = box.querySelectorAll('option, li');
		return Array.from(els).map((el, i) => ({
			value: el.getAttribute('data-value') || el.getAttribute('value') || el.id || (el.textContent || '').trim(),
			text: (el.textContent || '').trim(),
			index: i
		}));
	})()`, jsonEncode(listboxSelector))

	var options []schemas.ListboxOption
	if err := d.run(ctx, d.actionTimeout, chromedp.Evaluate(script, &options)); err != nil {
		return nil, fmt.Errorf("read listbox options from %q: %w", listboxSelector, err)
	}
	return options, nil
}
