package s3

import (
	"context"
	"strings"
	"testing"
)

func TestEncodeSHA256(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{
			name:  "empty content digest",
			input: "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
			want:  "47DEQpj8HBSa+/TImW+5JCeuQeRkm5NMpJWZG3hSuFU=",
		},
		{
			name:    "short digest",
			input:   "abcd",
			wantErr: true,
		},
		{
			name:    "not hex",
			input:   strings.Repeat("z", 64),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := encodeSHA256(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("encodeSHA256() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("encodeSHA256() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNormalizeEndpoint(t *testing.T) {
	tests := []struct {
		endpoint   string
		disableTLS bool
		want       string
	}{
		{"", false, ""},
		{"minio:9000", true, "http://minio:9000"},
		{"s3.example.test", false, "https://s3.example.test"},
		{"http://already:9000", false, "http://already:9000"},
	}
	for _, tt := range tests {
		if got := normalizeEndpoint(tt.endpoint, tt.disableTLS); got != tt.want {
			t.Errorf("normalizeEndpoint(%q, %v) = %q, want %q", tt.endpoint, tt.disableTLS, got, tt.want)
		}
	}
}

func TestNewClientRequiresCredentials(t *testing.T) {
	if _, err := NewClient(context.Background(), Config{Endpoint: "minio:9000"}); err == nil {
		t.Fatal("expected error without credentials")
	}
}
