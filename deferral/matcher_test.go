package deferral

import "testing"

func TestMatchPattern(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		path    string
		want    bool
	}{
		{
			name:    "wildcard matches one segment",
			pattern: "api/v1/orders/*",
			path:    "api/v1/orders/123",
			want:    true,
		},
		{
			name:    "wildcard does not match two segments",
			pattern: "api/v1/orders/*",
			path:    "api/v1/orders/123/items",
			want:    false,
		},
		{
			name:    "wildcard does not match zero segments",
			pattern: "api/v1/orders/*",
			path:    "api/v1/orders",
			want:    false,
		},
		{
			name:    "exact match",
			pattern: "api/v1/reports/generate",
			path:    "api/v1/reports/generate",
			want:    true,
		},
		{
			name:    "literal segment mismatch",
			pattern: "api/v1/reports/generate",
			path:    "api/v1/reports/export",
			want:    false,
		},
		{
			name:    "leading slash on path is normalized",
			pattern: "api/v1/reports/*",
			path:    "/api/v1/reports/generate",
			want:    true,
		},
		{
			name:    "multiple wildcards",
			pattern: "api/*/orders/*",
			path:    "api/v2/orders/77",
			want:    true,
		},
		{
			name:    "wildcard in middle with count mismatch",
			pattern: "api/*/orders",
			path:    "api/v1/orders/1",
			want:    false,
		},
		{
			name:    "empty path never matches",
			pattern: "api/*",
			path:    "",
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MatchPattern(tt.pattern, tt.path); got != tt.want {
				t.Errorf("MatchPattern(%q, %q) = %v, want %v", tt.pattern, tt.path, got, tt.want)
			}
		})
	}
}

func TestValidatePattern(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		wantErr bool
	}{
		{name: "plain path", pattern: "api/v1/orders", wantErr: false},
		{name: "single wildcard", pattern: "api/v1/orders/*", wantErr: false},
		{name: "wildcard only", pattern: "*", wantErr: false},
		{name: "empty", pattern: "", wantErr: true},
		{name: "only slashes", pattern: "///", wantErr: true},
		{name: "double slash", pattern: "api//orders", wantErr: true},
		{name: "partial wildcard", pattern: "api/v1/ord*", wantErr: true},
		{name: "embedded wildcard", pattern: "api/*x*/orders", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePattern(tt.pattern)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePattern(%q) error = %v, wantErr %v", tt.pattern, err, tt.wantErr)
			}
		})
	}
}
