package render

import (
	"testing"
	"time"
)

type feedRow struct {
	ID        string
	Submitted time.Time
	Filename  *string
}

func TestRenderFeed(t *testing.T) {
	e, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	name := "invoice.exe"
	submitted := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		row  feedRow
		want string
	}{
		{
			name: "with filename",
			row:  feedRow{ID: "240501-a", Submitted: submitted, Filename: &name},
			want: "<FeedItem 240501-a, 2024-05-01T10:00:00Z: invoice.exe>",
		},
		{
			name: "without filename",
			row:  feedRow{ID: "240501-b", Submitted: submitted},
			want: "<FeedItem 240501-b, 2024-05-01T10:00:00Z: None>",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Render("feed", tt.row)
			if err != nil {
				t.Fatalf("Render: %v", err)
			}
			if got != tt.want {
				t.Fatalf("Render() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRenderUnknownTemplate(t *testing.T) {
	e, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := e.Render("missing", nil); err == nil {
		t.Fatal("expected error for unknown template")
	}
}
