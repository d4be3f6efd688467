package pmode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Resolver looks up PModes for the engine and guards writes with Validate
type Resolver struct {
	store  Store
	logger *slog.Logger
}

// NewResolver creates a resolver over store
func NewResolver(store Store, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: store, logger: logger}
}

// GetByID returns the live PMode with the given ID or ErrNotFound
func (r *Resolver) GetByID(ctx context.Context, id string) (*PMode, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	p, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Deleted {
		return nil, ErrNotFound
	}
	return p, nil
}

// Resolve returns the PMode for id. An empty or unknown id falls back to
// the default PMode; ErrNotFound is returned when that fails too.
func (r *Resolver) Resolve(ctx context.Context, id string) (*PMode, error) {
	if id != "" {
		p, err := r.GetByID(ctx, id)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("resolving pmode %q: %w", id, err)
		}
	}

	defaultID, err := r.store.DefaultID(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading default pmode: %w", err)
	}
	if defaultID == "" || defaultID == id {
		return nil, fmt.Errorf("pmode %q: %w", id, ErrNotFound)
	}

	p, err := r.GetByID(ctx, defaultID)
	if err != nil {
		return nil, fmt.Errorf("default pmode %q: %w", defaultID, err)
	}
	if id != "" {
		r.logger.Debug("unknown pmode, using default",
			slog.String("pmode_id", id),
			slog.String("default_pmode_id", defaultID))
	}
	return p, nil
}

// Put validates and stores p. Invalid PModes are rejected with an
// *InvalidError; the Result is returned in both cases.
func (r *Resolver) Put(ctx context.Context, p *PMode) (Result, error) {
	res := Validate(p)
	if err := res.Err(); err != nil {
		return res, err
	}
	for _, w := range res.Warnings() {
		r.logger.Warn("pmode validation warning",
			slog.String("pmode_id", p.ID),
			slog.String("field", w.Field),
			slog.String("message", w.Message))
	}

	if err := r.store.Put(ctx, p); err != nil {
		return res, fmt.Errorf("storing pmode %q: %w", p.ID, err)
	}
	return res, nil
}

// Delete soft-deletes a PMode
func (r *Resolver) Delete(ctx context.Context, id string) error {
	if err := r.store.SoftDelete(ctx, id); err != nil {
		return fmt.Errorf("deleting pmode %q: %w", id, err)
	}
	return nil
}

// List returns the live PModes
func (r *Resolver) List(ctx context.Context) ([]*PMode, error) {
	return r.store.List(ctx, false)
}

// DefaultID returns the default PMode ID
func (r *Resolver) DefaultID(ctx context.Context) (string, error) {
	return r.store.DefaultID(ctx)
}

// SetDefaultID makes id the default PMode. It must name a live PMode;
// an empty id clears the default.
func (r *Resolver) SetDefaultID(ctx context.Context, id string) error {
	if id != "" {
		if _, err := r.GetByID(ctx, id); err != nil {
			return fmt.Errorf("default pmode %q: %w", id, err)
		}
	}
	return r.store.SetDefaultID(ctx, id)
}

// FindByService returns the live PModes whose first leg carries service and action
func (r *Resolver) FindByService(ctx context.Context, service, action string) ([]*PMode, error) {
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	return FindByService(all, service, action), nil
}
