package validator

import (
	"context"
	"errors"
	"strings"
	"testing"

	errorskg "github.com/sweetpotato0/crag/errors"
	"github.com/sweetpotato0/crag/middleware"
)

func pass(c *middleware.Context) error { return nil }

func TestInputValidator(t *testing.T) {
	t.Run("valid input is trimmed and passes through", func(t *testing.T) {
		ctx := middleware.NewContext(context.Background(), middleware.OpAsk, "  Docker 설치  ", "")
		executed := false
		err := NewInputValidator(100).Execute(ctx, func(c *middleware.Context) error {
			executed = true
			return nil
		})
		if err != nil || !executed {
			t.Fatalf("unexpected error: %v", err)
		}
		if ctx.Input != "Docker 설치" {
			t.Errorf("input = %q", ctx.Input)
		}
	})

	t.Run("empty input is a validation error", func(t *testing.T) {
		for _, in := range []string{"", "   ", "\n\t"} {
			ctx := middleware.NewContext(context.Background(), middleware.OpAsk, in, "")
			err := NewInputValidator(100).Execute(ctx, func(*middleware.Context) error {
				t.Fatal("handler should not be executed for empty input")
				return nil
			})
			if errorskg.KindOf(err) != errorskg.KindValidation || !errors.Is(err, errorskg.ErrInvalidInput) {
				t.Errorf("input %q: got %v", in, err)
			}
		}
	})

	t.Run("long input is truncated", func(t *testing.T) {
		ctx := middleware.NewContext(context.Background(), middleware.OpAsk, strings.Repeat("가", 50), "")
		if err := NewInputValidator(10).Execute(ctx, pass); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ctx.Input != strings.Repeat("가", 10) || ctx.Metadata["truncated"] != true {
			t.Errorf("input = %q", ctx.Input)
		}
	})

	t.Run("clarify requires a session", func(t *testing.T) {
		ctx := middleware.NewContext(context.Background(), middleware.OpClarify, "1", " ")
		if err := NewInputValidator(10).Execute(ctx, pass); errorskg.KindOf(err) != errorskg.KindValidation {
			t.Fatalf("got %v", err)
		}
	})

	t.Run("extra checks run on the cleaned input", func(t *testing.T) {
		v := NewInputValidator(0, func(s string) error {
			if strings.Contains(s, "DROP TABLE") {
				return errors.New("suspicious input")
			}
			return nil
		})
		ctx := middleware.NewContext(context.Background(), middleware.OpAsk, "x; DROP TABLE users", "")
		if err := v.Execute(ctx, pass); errorskg.KindOf(err) != errorskg.KindValidation {
			t.Fatalf("got %v", err)
		}
	})
}
