package db

import (
	"context"
	"testing"
)

func TestOpenRejectsBadDSN(t *testing.T) {
	tests := []struct {
		name string
		dsn  string
	}{
		{"empty", ""},
		{"unparseable", "postgres://%zz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Open(context.Background(), tt.dsn); err == nil {
				t.Fatalf("Open(%q) succeeded", tt.dsn)
			}
		})
	}
}

func TestMigrateNilPool(t *testing.T) {
	if err := Migrate(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil pool")
	}
}
