package security

import (
	"context"
	"errors"
	"testing"
)

func TestStaticToken(t *testing.T) {
	token, err := StaticToken("abc").Token(context.Background())
	if err != nil || token != "abc" {
		t.Fatalf("Token() = %q, %v; want abc, nil", token, err)
	}

	if _, err := StaticToken("").Token(context.Background()); !errors.Is(err, ErrNoToken) {
		t.Errorf("empty StaticToken error = %v, want ErrNoToken", err)
	}
}

func TestFromBearerHeader(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
		isNil  bool
	}{
		{name: "bearer token", header: "Bearer tok123", want: "tok123"},
		{name: "lowercase scheme", header: "bearer tok123", want: "tok123"},
		{name: "trailing spaces", header: "Bearer tok123  ", want: "tok123"},
		{name: "empty header", header: "", isNil: true},
		{name: "scheme only", header: "Bearer ", isNil: true},
		{name: "basic auth", header: "Basic dXNlcjpwYXNz", isNil: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := FromBearerHeader(tt.header)
			if tt.isNil {
				if src != nil {
					t.Fatalf("expected nil source for %q", tt.header)
				}
				return
			}
			if src == nil {
				t.Fatalf("expected source for %q", tt.header)
			}
			got, err := src.Token(context.Background())
			if err != nil || got != tt.want {
				t.Errorf("Token() = %q, %v; want %q", got, err, tt.want)
			}
		})
	}
}

func TestFallback(t *testing.T) {
	ctx := context.Background()
	failing := TokenFunc(func(context.Context) (string, error) { return "", ErrNoToken })

	got, err := Fallback(failing, StaticToken("second")).Token(ctx)
	if err != nil || got != "second" {
		t.Errorf("Fallback to secondary = %q, %v", got, err)
	}

	got, err = Fallback(StaticToken("first"), StaticToken("second")).Token(ctx)
	if err != nil || got != "first" {
		t.Errorf("Fallback with primary = %q, %v", got, err)
	}

	if Fallback(nil, nil) != nil {
		t.Error("Fallback(nil, nil) should be nil")
	}
	if src := Fallback(nil, StaticToken("x")); src == nil {
		t.Error("Fallback(nil, x) should return x")
	}
}
