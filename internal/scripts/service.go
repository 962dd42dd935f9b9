// Package scripts is the authoring service for tenant logic scripts. It owns
// the one invariant every mutation path must honor: the script cache for the
// affected tenant is invalidated before the mutation is acknowledged, so a
// read issued right after a successful write never serves the pre-mutation
// rules for longer than the in-flight requests that already read them.
package scripts

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tollgate-dev/tollgate/internal/rulefile"
	"github.com/tollgate-dev/tollgate/internal/rules"
	"github.com/tollgate-dev/tollgate/internal/store"
)

// Invalidator is the cache dependency, narrowed to eviction.
type Invalidator interface {
	Invalidate(tenantID string)
	InvalidateAll()
}

// Checker compile-checks an expression. Implemented by *engine.Engine.
type Checker interface {
	Check(tp rules.TriggerPoint, expr string) error
}

// Clock abstracts time for deterministic timestamps in tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// IDGenerator mints script ids. Production uses UUIDv7 (time-sortable, which
// keeps id tie-breaks aligned with creation order); tests use fixed ids.
type IDGenerator interface {
	NewID() string
}

// UUIDv7IDs is the production IDGenerator.
type UUIDv7IDs struct{}

// NewID returns a new UUIDv7 as a hyphenated string.
func (UUIDv7IDs) NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Service wraps the script store with id/timestamp assignment and cache
// invalidation.
type Service struct {
	store   *store.Store
	cache   Invalidator
	checker Checker
	ids     IDGenerator
	clock   Clock
	logger  *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock injects a clock for tests.
func WithClock(c Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithIDGenerator injects an id generator for tests.
func WithIDGenerator(g IDGenerator) Option {
	return func(s *Service) { s.ids = g }
}

// New creates a Service.
func New(st *store.Store, cache Invalidator, checker Checker, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:   st,
		cache:   cache,
		checker: checker,
		ids:     UUIDv7IDs{},
		clock:   systemClock{},
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateInput is the authoring payload for a new script.
type CreateInput struct {
	Trigger        string `json:"trigger_point"`
	Expression     string `json:"script_content"`
	Description    string `json:"description"`
	SequenceOrder  int    `json:"sequence_order"`
	Active         *bool  `json:"active"`
	OriginalPrompt string `json:"original_prompt"`
}

// Create stores a new script and invalidates the tenant's cache entry.
//
// The expression is compile-checked but a failing script is stored anyway:
// storage has always been permissive (a broken rule fails open at evaluation
// time), and rejecting here would break the authoring flow that saves first
// and iterates. The warning lands in the log either way.
func (s *Service) Create(ctx context.Context, tenantID string, in CreateInput) (rules.LogicScript, error) {
	tp, err := rules.ParseTriggerPoint(in.Trigger)
	if err != nil {
		return rules.LogicScript{}, fmt.Errorf("create script: %w", err)
	}
	if in.Expression == "" {
		return rules.LogicScript{}, fmt.Errorf("create script: empty script_content")
	}

	if err := s.checker.Check(tp, in.Expression); err != nil {
		s.logger.Warn("storing script that does not compile",
			"tenant_id", tenantID, "trigger", in.Trigger, "error", err)
	}

	now := s.clock.Now().UTC()
	sc := rules.LogicScript{
		ID:             s.ids.NewID(),
		TenantID:       tenantID,
		Trigger:        tp,
		Expression:     in.Expression,
		Description:    in.Description,
		SequenceOrder:  in.SequenceOrder,
		Active:         in.Active == nil || *in.Active,
		CreatedAt:      now,
		UpdatedAt:      now,
		OriginalPrompt: in.OriginalPrompt,
	}

	if err := s.store.CreateScript(ctx, sc); err != nil {
		return rules.LogicScript{}, err
	}
	s.cache.Invalidate(tenantID)
	return sc, nil
}

// UpdateInput carries the mutable fields of an existing script. Nil fields
// keep their stored value.
type UpdateInput struct {
	Trigger       *string `json:"trigger_point"`
	Expression    *string `json:"script_content"`
	Description   *string `json:"description"`
	SequenceOrder *int    `json:"sequence_order"`
	Active        *bool   `json:"active"`
}

// Update applies a partial edit and invalidates the tenant's cache entry.
func (s *Service) Update(ctx context.Context, tenantID, id string, in UpdateInput) (rules.LogicScript, error) {
	sc, err := s.store.GetScript(ctx, tenantID, id)
	if err != nil {
		return rules.LogicScript{}, err
	}

	if in.Trigger != nil {
		tp, err := rules.ParseTriggerPoint(*in.Trigger)
		if err != nil {
			return rules.LogicScript{}, fmt.Errorf("update script: %w", err)
		}
		sc.Trigger = tp
	}
	if in.Expression != nil {
		if *in.Expression == "" {
			return rules.LogicScript{}, fmt.Errorf("update script: empty script_content")
		}
		sc.Expression = *in.Expression
	}
	if in.Description != nil {
		sc.Description = *in.Description
	}
	if in.SequenceOrder != nil {
		sc.SequenceOrder = *in.SequenceOrder
	}
	if in.Active != nil {
		sc.Active = *in.Active
	}
	sc.UpdatedAt = s.clock.Now().UTC()

	if err := s.checker.Check(sc.Trigger, sc.Expression); err != nil {
		s.logger.Warn("storing script that does not compile",
			"tenant_id", tenantID, "script_id", id, "error", err)
	}

	if err := s.store.UpdateScript(ctx, sc); err != nil {
		return rules.LogicScript{}, err
	}
	s.cache.Invalidate(tenantID)
	return sc, nil
}

// Delete removes a script and invalidates the tenant's cache entry.
func (s *Service) Delete(ctx context.Context, tenantID, id string) error {
	if err := s.store.DeleteScript(ctx, tenantID, id); err != nil {
		return err
	}
	s.cache.Invalidate(tenantID)
	return nil
}

// SetActive flips the active flag and invalidates the tenant's cache entry.
func (s *Service) SetActive(ctx context.Context, tenantID, id string, active bool) error {
	if err := s.store.SetScriptActive(ctx, tenantID, id, active, s.clock.Now().UTC()); err != nil {
		return err
	}
	s.cache.Invalidate(tenantID)
	return nil
}

// Reorder rewrites the evaluation order for one trigger point and
// invalidates the tenant's cache entry.
func (s *Service) Reorder(ctx context.Context, tenantID string, tp rules.TriggerPoint, orderedIDs []string) error {
	if err := s.store.ReorderScripts(ctx, tenantID, tp, orderedIDs, s.clock.Now().UTC()); err != nil {
		return err
	}
	s.cache.Invalidate(tenantID)
	return nil
}

// Get returns one script.
func (s *Service) Get(ctx context.Context, tenantID, id string) (rules.LogicScript, error) {
	return s.store.GetScript(ctx, tenantID, id)
}

// List returns every script for the tenant, active or not.
func (s *Service) List(ctx context.Context, tenantID string) ([]rules.LogicScript, error) {
	return s.store.ListScripts(ctx, tenantID)
}

// ImportPack stores every script of a validated rule pack, then invalidates
// once. Packs with blocking validation issues are rejected wholesale: a
// partially imported pack would leave the tenant with half a rule set.
func (s *Service) ImportPack(ctx context.Context, tenantID string, pack *rulefile.Pack) ([]rules.LogicScript, error) {
	if issues := pack.Validate(s.checker.Check); rulefile.HasBlocking(issues) {
		return nil, fmt.Errorf("import pack: %w", rulefile.IssuesError(issues))
	}

	imported := make([]rules.LogicScript, 0, len(pack.Scripts))
	for _, ps := range pack.Scripts {
		now := s.clock.Now().UTC()
		sc := rules.LogicScript{
			ID:             s.ids.NewID(),
			TenantID:       tenantID,
			Trigger:        rules.TriggerPoint(ps.Trigger),
			Expression:     ps.Expression,
			Description:    ps.Description,
			SequenceOrder:  ps.Sequence,
			Active:         ps.IsActive(),
			CreatedAt:      now,
			UpdatedAt:      now,
			OriginalPrompt: ps.Prompt,
		}
		if err := s.store.CreateScript(ctx, sc); err != nil {
			return nil, fmt.Errorf("import pack: %w", err)
		}
		imported = append(imported, sc)
	}
	s.cache.Invalidate(tenantID)
	return imported, nil
}
