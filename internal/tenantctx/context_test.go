// internal/tenantctx/context_test.go
//
// Shadowing and accessor behavior for the ambient tenant context.

package tenantctx

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/yanizio/fabric/internal/registry"
)

func record(tenantSlug, orgSlug, schema string) *Context {
	ten := &registry.Tenant{ID: uuid.New(), Slug: tenantSlug}
	org := &registry.Org{ID: uuid.New(), TenantID: ten.ID, Slug: orgSlug, SchemaName: schema}
	return New(ten, org, nil)
}

func TestGetOutsideBindingIsNil(t *testing.T) {
	if got := Get(context.Background()); got != nil {
		t.Fatalf("expected nil outside any binding, got %#v", got)
	}
}

func TestRequireOutsideBindingFails(t *testing.T) {
	if _, err := Require(context.Background()); !errors.Is(err, ErrNoTenantContext) {
		t.Fatalf("want ErrNoTenantContext, got %v", err)
	}
	if _, err := RequireSchemaName(context.Background()); !errors.Is(err, ErrNoTenantContext) {
		t.Fatalf("want ErrNoTenantContext, got %v", err)
	}
	if _, err := RequireDatabase(context.Background()); !errors.Is(err, ErrNoTenantContext) {
		t.Fatalf("want ErrNoTenantContext, got %v", err)
	}
}

func TestRunWithBindsAndRestores(t *testing.T) {
	outer := record("acme", "main", "org_acme")
	inner := record("globex", "ops", "org_globex")

	root := context.Background()
	err := RunWith(root, outer, func(ctx context.Context) error {
		if got := Get(ctx); got != outer {
			t.Fatalf("outer binding not visible")
		}

		// Nested bindings shadow, never mutate.
		if err := RunWith(ctx, inner, func(ctx context.Context) error {
			if got := Get(ctx); got != inner {
				t.Fatalf("inner binding not visible")
			}
			schema, err := RequireSchemaName(ctx)
			if err != nil || schema != "org_globex" {
				t.Fatalf("schema = %q, err = %v", schema, err)
			}
			return nil
		}); err != nil {
			return err
		}

		// Leaving the inner region restores the outer binding exactly.
		if got := Get(ctx); got != outer {
			t.Fatalf("outer binding not restored after inner region")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunWith: %v", err)
	}

	// Reading after all regions have exited yields nil.
	if got := Get(root); got != nil {
		t.Fatalf("binding leaked out of RunWith")
	}
}

func TestBindingFlowsAcrossGoroutines(t *testing.T) {
	tc := record("acme", "main", "org_acme")

	err := RunWith(context.Background(), tc, func(ctx context.Context) error {
		done := make(chan *Context, 1)
		go func() { done <- Get(ctx) }()
		if got := <-done; got != tc {
			t.Fatalf("binding did not propagate to spawned goroutine")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunWith: %v", err)
	}
}

func TestRunWithPropagatesError(t *testing.T) {
	want := errors.New("handler failed")
	err := RunWith(context.Background(), record("acme", "main", "org_acme"),
		func(ctx context.Context) error { return want })
	if !errors.Is(err, want) {
		t.Fatalf("want handler error, got %v", err)
	}
}
