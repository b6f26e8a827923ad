package account

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestMemoryDirectory(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := NewMemoryDirectory()

	u, err := dir.Create(ctx, CreateUserInput{Username: "Dave", DisplayName: "  Dave D ", PasswordHash: "h"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := ParseUserID(u.ID); err != nil {
		t.Fatalf("id %q is not a UUID", u.ID)
	}
	if u.Username != "dave" || u.DisplayName != "Dave D" {
		t.Fatalf("user=%+v", u)
	}

	if _, err := dir.Create(ctx, CreateUserInput{Username: "DAVE", PasswordHash: "h"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate err=%v", err)
	}
	if _, err := dir.Create(ctx, CreateUserInput{Username: "eve"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("missing hash err=%v", err)
	}

	if got, err := dir.ByUsername(ctx, " dave "); err != nil || got.ID != u.ID {
		t.Fatalf("ByUsername=%+v,%v", got, err)
	}
	if got, err := dir.ByID(ctx, strings.ToUpper(u.ID)); err != nil || got.ID != u.ID {
		t.Fatalf("ByID(upper)=%+v,%v", got, err)
	}
	if _, err := dir.ByID(ctx, "missing"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("ByID(missing) err=%v", err)
	}
}
