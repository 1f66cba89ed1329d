package cache

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/soundlens/soundlens/internal/shared"
)

func TestService(t *testing.T) {
	ctx := context.Background()

	t.Run("Disabled Without Address", func(t *testing.T) {
		svc := New(shared.CacheConfig{}, log.New(io.Discard))
		if svc != nil {
			t.Fatal("expected nil service when no address is configured")
		}

		t.Run("Nil Service Is Inert", func(t *testing.T) {
			var value string
			hit, err := svc.GetJSON(ctx, "key", &value)
			if err != nil {
				t.Errorf("expected no error from nil get, got %v", err)
			}
			if hit {
				t.Error("expected miss from nil service")
			}

			if err := svc.SetJSON(ctx, "key", "value", time.Minute); err != nil {
				t.Errorf("expected no error from nil set, got %v", err)
			}
			if err := svc.Delete(ctx, "key"); err != nil {
				t.Errorf("expected no error from nil delete, got %v", err)
			}
			if err := svc.Close(); err != nil {
				t.Errorf("expected no error from nil close, got %v", err)
			}
		})
	})

	t.Run("Enabled With Address", func(t *testing.T) {
		svc := New(shared.CacheConfig{Addr: "localhost:6379"}, log.New(io.Discard))
		if svc == nil {
			t.Fatal("expected service when an address is configured")
		}
		defer svc.Close()

		if err := svc.Delete(ctx); err != nil {
			t.Errorf("expected deleting no keys to be a no-op, got %v", err)
		}
	})
}
