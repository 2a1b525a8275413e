// Package filler contains the form-fill engine: the per-field action
// executor with its combobox protocol, and the section fill orchestrator.
package filler

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/applyflow/api/schemas"
	"github.com/xkilldash9x/applyflow/internal/config"
	"github.com/xkilldash9x/applyflow/internal/matcher"
)

// checkboxTruthy lists the mapped-value tokens interpreted as "checked".
var checkboxTruthy = map[string]bool{
	"true":    true,
	"yes":     true,
	"1":       true,
	"checked": true,
}

// Executor dispatches resolved fields to the page driver by control type.
// Every per-field failure is contained: it becomes an error string and
// one failed count, never a returned error to the caller of FillFields.
type Executor struct {
	driver  schemas.PageDriver
	cfg     config.FillConfig
	logger  *zap.Logger
	limiter *rate.Limiter
}

// NewExecutor creates the action executor.
func NewExecutor(driver schemas.PageDriver, cfg config.FillConfig, logger *zap.Logger) (*Executor, error) {
	if driver == nil {
		return nil, fmt.Errorf("executor requires a page driver")
	}
	if logger == nil {
		return nil, fmt.Errorf("executor requires a logger")
	}

	// The limiter enforces the minimum spacing between driver actions;
	// pause adds the random jitter on top.
	interval := cfg.FillDelayMin
	if interval <= 0 {
		interval = time.Millisecond
	}
	return &Executor{
		driver:  driver,
		cfg:     cfg,
		logger:  logger.Named("executor"),
		limiter: rate.NewLimiter(rate.Every(interval), 1),
	}, nil
}

// FillFields fills every mapped field in the batch, pacing between
// actions. Sibling fields are never skipped because an earlier one
// failed.
func (e *Executor) FillFields(ctx context.Context, fields []schemas.FormField) schemas.FillOutcome {
	var outcome schemas.FillOutcome

	for i := range fields {
		f := &fields[i]
		if !f.IsMapped() {
			continue
		}
		if err := ctx.Err(); err != nil {
			outcome.RecordFailure(fmt.Sprintf("fill aborted at %q: %v", f.Selector, err))
			return outcome
		}

		if err := e.pause(ctx); err != nil {
			outcome.RecordFailure(fmt.Sprintf("fill aborted at %q: %v", f.Selector, err))
			return outcome
		}

		if err := e.FillField(ctx, f); err != nil {
			e.logger.Warn("Field fill failed",
				zap.String("selector", f.Selector),
				zap.String("type", string(f.Type)),
				zap.Error(err),
			)
			outcome.RecordFailure(fmt.Sprintf("%s (%s): %v", f.Selector, f.Label, err))
			continue
		}
		outcome.RecordFill()
	}

	return outcome
}

// FillField dispatches one field to the driver primitive matching its
// control type.
func (e *Executor) FillField(ctx context.Context, f *schemas.FormField) error {
	value := f.Value()

	switch f.Type {
	case schemas.FieldSelect:
		matched, ok := matcher.Match(value, f.Options, e.cfg.DropdownMatchThreshold)
		if !ok {
			return fmt.Errorf("no select option matched %q", value)
		}
		return e.driver.SelectOption(ctx, f.Selector, matched)

	case schemas.FieldCombobox:
		return e.fillCombobox(ctx, f)

	case schemas.FieldRadio:
		return e.driver.CheckRadio(ctx, f.Selector, value)

	case schemas.FieldCheckbox:
		return e.driver.SetChecked(ctx, f.Selector, checkboxTruthy[strings.ToLower(strings.TrimSpace(value))])

	case schemas.FieldFile:
		if e.cfg.ResumePath == "" {
			return fmt.Errorf("no resume path configured for file input")
		}
		return e.driver.SetFiles(ctx, f.Selector, []string{e.cfg.ResumePath})

	default:
		// text, email, tel, textarea and unknown types all take a direct
		// value set.
		return e.driver.Fill(ctx, f.Selector, value)
	}
}

// TriggerAdd clicks a section's Add control, preferring the positional
// index among same-role controls with the explicit selector as fallback.
func (e *Executor) TriggerAdd(ctx context.Context, section *schemas.RepeatableSection) error {
	var indexErr error
	if section.AddButtonIndex != nil {
		indexErr = e.driver.ClickNth(ctx, e.cfg.AddButtonSelector, *section.AddButtonIndex)
		if indexErr == nil {
			return nil
		}
	}
	if section.AddButtonSelector != "" {
		if err := e.driver.Click(ctx, section.AddButtonSelector); err != nil {
			return fmt.Errorf("add control click failed for section %q: %w", section.Name, err)
		}
		return nil
	}
	if indexErr != nil {
		return fmt.Errorf("add control click failed for section %q: %w", section.Name, indexErr)
	}
	return fmt.Errorf("section %q has no add control", section.Name)
}

// pause spaces out consecutive fills: the limiter enforces the floor and
// the jitter randomizes up to the configured maximum.
func (e *Executor) pause(ctx context.Context) error {
	if err := e.limiter.Wait(ctx); err != nil {
		return err
	}
	jitterRange := e.cfg.FillDelayMax - e.cfg.FillDelayMin
	if jitterRange <= 0 {
		return nil
	}
	return sleepCtx(ctx, time.Duration(rand.Int63n(int64(jitterRange))))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
