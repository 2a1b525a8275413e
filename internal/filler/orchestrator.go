package filler

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/applyflow/api/schemas"
	"github.com/xkilldash9x/applyflow/internal/config"
	"github.com/xkilldash9x/applyflow/internal/gateway"
	"github.com/xkilldash9x/applyflow/internal/profile"
)

// Mapper requests value mappings for a batch of controls against a text
// context. Implemented by the analyzer.
type Mapper interface {
	MapFields(ctx context.Context, fields []schemas.FormField, textContext string) []schemas.FormField
}

// Extractor requests a fresh page snapshot over the duplex channel.
// Implemented by the gateway.
type Extractor interface {
	RequestExtraction(ctx context.Context, timeout time.Duration) (*schemas.ExtractedForm, error)
}

// ProgressFunc receives human-readable progress strings during a fill.
type ProgressFunc func(message string)

// Orchestrator is the central fill state machine: flat fields first, then
// per-section existing entries, then the add / wait / re-extract / diff /
// map / fill cycle for new entries.
type Orchestrator struct {
	executor  *Executor
	mapper    Mapper
	extractor Extractor
	profiles  *profile.Service
	cfg       config.FillConfig
	logger    *zap.Logger
	patterns  []*regexp.Regexp
}

// NewOrchestrator creates the orchestrator. All dependencies are
// required; section membership patterns come from configuration and are
// compiled once here.
func NewOrchestrator(executor *Executor, mapper Mapper, extractor Extractor, profiles *profile.Service, cfg config.FillConfig, logger *zap.Logger) (*Orchestrator, error) {
	if executor == nil {
		return nil, fmt.Errorf("orchestrator requires an executor")
	}
	if mapper == nil {
		return nil, fmt.Errorf("orchestrator requires a mapper")
	}
	if extractor == nil {
		return nil, fmt.Errorf("orchestrator requires an extractor")
	}
	if profiles == nil {
		return nil, fmt.Errorf("orchestrator requires a profile service")
	}
	if logger == nil {
		return nil, fmt.Errorf("orchestrator requires a logger")
	}

	var patterns []*regexp.Regexp
	for keyword, exprs := range cfg.SectionPatterns {
		for _, expr := range exprs {
			re, err := regexp.Compile(expr)
			if err != nil {
				return nil, fmt.Errorf("invalid section pattern %q for %q: %w", expr, keyword, err)
			}
			patterns = append(patterns, re)
		}
	}

	return &Orchestrator{
		executor:  executor,
		mapper:    mapper,
		extractor: extractor,
		profiles:  profiles,
		cfg:       cfg,
		logger:    logger.Named("orchestrator"),
		patterns:  patterns,
	}, nil
}

// Fill executes one fill command against an analyzed form. The outcome is
// composed strictly additively; per-field, per-entry and per-iteration
// failures are reported as data, never as a returned error.
func (o *Orchestrator) Fill(ctx context.Context, analysis *schemas.FormAnalysis, progress ProgressFunc) schemas.FillOutcome {
	if progress == nil {
		progress = func(string) {}
	}

	var outcome schemas.FillOutcome

	resolved := o.resolvedSections(analysis)
	flat := o.flatFields(analysis, len(resolved) > 0)

	o.logger.Info("Starting fill",
		zap.Int("flat_fields", len(flat)),
		zap.Int("sections", len(resolved)),
	)
	progress(fmt.Sprintf("Filling %d fields", len(flat)))
	outcome.Merge(o.executor.FillFields(ctx, flat))

	for i := range resolved {
		o.fillSection(ctx, &resolved[i], analysis, &outcome, progress)
	}

	o.logger.Info("Fill complete",
		zap.Int("filled", outcome.Filled),
		zap.Int("failed", outcome.Failed),
		zap.Int("errors", len(outcome.Errors)),
	)
	return outcome
}

// resolvedSections returns the sections that resolved to a non-empty
// profile collection. Unresolved sections are skipped entirely.
func (o *Orchestrator) resolvedSections(analysis *schemas.FormAnalysis) []schemas.RepeatableSection {
	var out []schemas.RepeatableSection
	for _, s := range analysis.Sections {
		if s.ProfileKey == "" {
			continue
		}
		if len(o.profiles.Profile().EntriesFor(s.ProfileKey)) == 0 {
			o.logger.Debug("Profile collection empty; skipping section", zap.String("section", s.Name))
			continue
		}
		out = append(out, s)
	}
	return out
}

// flatFields classifies the analysis' mapped fields. With at least one
// resolved section, fields whose selector matches any section-membership
// pattern belong to a section and are excluded from the flat pass.
func (o *Orchestrator) flatFields(analysis *schemas.FormAnalysis, haveSections bool) []schemas.FormField {
	var out []schemas.FormField
	for _, f := range analysis.Fields {
		if !f.IsMapped() {
			continue
		}
		if haveSections && o.isSectionField(f.Selector) {
			continue
		}
		out = append(out, f)
	}
	return out
}

func (o *Orchestrator) isSectionField(selector string) bool {
	for _, re := range o.patterns {
		if re.MatchString(selector) {
			return true
		}
	}
	return false
}

// fillSection fills one repeatable section: existing entries first, then
// the add loop for the remainder.
func (o *Orchestrator) fillSection(ctx context.Context, section *schemas.RepeatableSection, analysis *schemas.FormAnalysis, outcome *schemas.FillOutcome, progress ProgressFunc) {
	entries := o.profiles.Profile().EntriesFor(section.ProfileKey)

	totalTarget := len(entries)
	if totalTarget > o.cfg.MaxSectionEntries {
		totalTarget = o.cfg.MaxSectionEntries
	}

	o.logger.Info("Filling repeatable section",
		zap.String("section", section.Name),
		zap.Int("existing_entries", section.ExistingEntries),
		zap.Int("target_entries", totalTarget),
	)

	// Entries already rendered on the page are mapped and filled with a
	// narrowed context, one entry at a time.
	for idx := 0; idx < section.ExistingEntries && idx < totalTarget; idx++ {
		progress(fmt.Sprintf("Filling %s entry %d of %d", section.Name, idx+1, totalTarget))
		mapped := o.mapper.MapFields(ctx, section.Fields, entries[idx].Context())
		outcome.Merge(o.executor.FillFields(ctx, mapped))
	}

	entriesToAdd := totalTarget - section.ExistingEntries
	if entriesToAdd <= 0 {
		return
	}

	// The baseline starts from every selector of the original full
	// analysis and only ever grows.
	baseline := make(map[string]struct{}, len(analysis.Fields))
	for i := range analysis.Fields {
		baseline[analysis.Fields[i].Selector] = struct{}{}
	}

	for idx := section.ExistingEntries; idx < totalTarget; idx++ {
		progress(fmt.Sprintf("Adding %s entry %d of %d", section.Name, idx+1, totalTarget))

		if err := o.executor.TriggerAdd(ctx, section); err != nil {
			outcome.RecordFailure(fmt.Sprintf("section %q entry %d: %v", section.Name, idx+1, err))
			continue
		}

		if err := sleepCtx(ctx, o.cfg.AddButtonWait); err != nil {
			outcome.RecordFailure(fmt.Sprintf("section %q entry %d: %v", section.Name, idx+1, err))
			return
		}

		fresh, err := o.extractor.RequestExtraction(ctx, o.cfg.ExtractionTimeout)
		if err != nil {
			if errors.Is(err, gateway.ErrNoActiveConnection) {
				// The extraction capability itself is gone. Fatal for the
				// remainder of this add loop only; the accumulated
				// outcome still goes back to the caller.
				outcome.RecordError(fmt.Sprintf("section %q: extraction unavailable, stopping add loop: %v", section.Name, err))
				o.logger.Warn("Extraction capability lost mid add loop", zap.String("section", section.Name), zap.Error(err))
				return
			}
			outcome.RecordFailure(fmt.Sprintf("section %q entry %d: re-extraction failed: %v", section.Name, idx+1, err))
			continue
		}
		if fresh == nil || len(fresh.Fields) == 0 {
			outcome.RecordFailure(fmt.Sprintf("section %q entry %d: re-extraction returned no fields", section.Name, idx+1))
			continue
		}

		var newFields []schemas.FormField
		for _, f := range fresh.Fields {
			if _, seen := baseline[f.Selector]; !seen {
				newFields = append(newFields, f)
			}
		}

		if len(newFields) == 0 {
			outcome.RecordError(fmt.Sprintf("No new fields detected after clicking Add for section %q (entry %d)", section.Name, idx+1))
			continue
		}

		o.logger.Debug("New controls discovered after Add",
			zap.String("section", section.Name),
			zap.Int("count", len(newFields)),
		)

		mapped := o.mapper.MapFields(ctx, newFields, entries[idx].Context())
		outcome.Merge(o.executor.FillFields(ctx, mapped))

		// Extend the baseline with every selector from the fresh
		// extraction, not only the new ones, so stale controls are never
		// misread as new on a later iteration.
		for _, f := range fresh.Fields {
			baseline[f.Selector] = struct{}{}
		}
	}
}
