package query

import (
	"context"

	"github.com/cqldef/cqldef/cqlerr"
)

type FindOptions struct {
	// Select is a projection list. Entries may be plain columns, "col AS
	// alias", or aggregates such as "count(id) AS total".
	Select           []string
	Distinct         bool
	AllowFiltering   bool
	MaterializedView string
	// Raw returns rows as maps instead of records. A projection forces it.
	Raw bool
}

type SaveOptions struct {
	IfNotExists bool
	TTL         int
}

type UpdateOptions struct {
	TTL        int
	Conditions Object
	IfExists   bool
}

type DeleteOptions struct{}

// Statement is a compiled statement. Before and After, when set, are the
// hooks of the operation that produced it; a batch runs every Before, the
// batch itself, then every After.
type Statement struct {
	Query  string
	Params []any
	Raw    bool
	Before func(ctx context.Context) error
	After  func(ctx context.Context) error
}

func (s *Statement) RunBefore(ctx context.Context) error {
	if s.Before == nil {
		return nil
	}
	return s.Before(ctx)
}

func (s *Statement) RunAfter(ctx context.Context) error {
	if s.After == nil {
		return nil
	}
	return s.After(ctx)
}

// Hooks are called around writes. A nil hook is a no-op. Errors are reported
// as BeforeHookFailed or AfterHookFailed; an after hook runs once the write
// has been applied, so its failure does not undo the write.
type Hooks struct {
	BeforeSave   func(ctx context.Context, r *Record, opts SaveOptions) error
	AfterSave    func(ctx context.Context, r *Record, opts SaveOptions) error
	BeforeUpdate func(ctx context.Context, where, values Object, opts UpdateOptions) error
	AfterUpdate  func(ctx context.Context, where, values Object, opts UpdateOptions) error
	BeforeDelete func(ctx context.Context, where Object, opts DeleteOptions) error
	AfterDelete  func(ctx context.Context, where Object, opts DeleteOptions) error
}

// AttachSave sets the save hooks of h on stmt.
func (h *Hooks) AttachSave(stmt *Statement, r *Record, opts SaveOptions) {
	if h == nil {
		return
	}
	if fn := h.BeforeSave; fn != nil {
		stmt.Before = hook(cqlerr.BeforeHookFailed, "before_save", func(ctx context.Context) error { return fn(ctx, r, opts) })
	}
	if fn := h.AfterSave; fn != nil {
		stmt.After = hook(cqlerr.AfterHookFailed, "after_save", func(ctx context.Context) error { return fn(ctx, r, opts) })
	}
}

func (h *Hooks) AttachUpdate(stmt *Statement, where, values Object, opts UpdateOptions) {
	if h == nil {
		return
	}
	if fn := h.BeforeUpdate; fn != nil {
		stmt.Before = hook(cqlerr.BeforeHookFailed, "before_update", func(ctx context.Context) error { return fn(ctx, where, values, opts) })
	}
	if fn := h.AfterUpdate; fn != nil {
		stmt.After = hook(cqlerr.AfterHookFailed, "after_update", func(ctx context.Context) error { return fn(ctx, where, values, opts) })
	}
}

func (h *Hooks) AttachDelete(stmt *Statement, where Object, opts DeleteOptions) {
	if h == nil {
		return
	}
	if fn := h.BeforeDelete; fn != nil {
		stmt.Before = hook(cqlerr.BeforeHookFailed, "before_delete", func(ctx context.Context) error { return fn(ctx, where, opts) })
	}
	if fn := h.AfterDelete; fn != nil {
		stmt.After = hook(cqlerr.AfterHookFailed, "after_delete", func(ctx context.Context) error { return fn(ctx, where, opts) })
	}
}

func hook(kind cqlerr.Kind, name string, fn func(ctx context.Context) error) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			return cqlerr.Wrap(kind, name+" hook failed", err)
		}
		return nil
	}
}
