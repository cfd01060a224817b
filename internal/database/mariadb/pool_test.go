package mariadb

import (
	"context"
	"testing"
)

func TestNewPool_RequiresDSN(t *testing.T) {
	if _, err := NewPool(context.Background(), ""); err == nil {
		t.Error("expected error for empty DSN")
	}
}
