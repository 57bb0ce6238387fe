//go:build test

package testutils

import (
	"testing"
)

func TestJSONAsserter_Diff(t *testing.T) {
	tests := []struct {
		name     string
		opts     []Option
		actual   string
		expected string
		wantDiff bool
	}{
		{name: "equal", actual: `{"a":1,"b":[1,2]}`, expected: `{"a":1,"b":[1,2]}`},
		{name: "key order irrelevant", actual: `{"b":2,"a":1}`, expected: `{"a":1,"b":2}`},
		{name: "extra keys ignored by default", actual: `{"a":1,"extra":true}`, expected: `{"a":1}`},
		{
			name:     "extra keys reported when strict",
			opts:     []Option{WithIgnoreExtraKeys(false)},
			actual:   `{"a":1,"extra":true}`,
			expected: `{"a":1}`,
			wantDiff: true,
		},
		{name: "value mismatch", actual: `{"a":2}`, expected: `{"a":1}`, wantDiff: true},
		{name: "presence placeholder", actual: `{"a":"anything"}`, expected: `{"a":"<<PRESENCE>>"}`},
		{name: "presence placeholder needs the key", actual: `{}`, expected: `{"a":"<<PRESENCE>>"}`, wantDiff: true},
		{
			name:     "placeholder literal when disabled",
			opts:     []Option{WithAllowPresencePlaceholder(false)},
			actual:   `{"a":"anything"}`,
			expected: `{"a":"<<PRESENCE>>"}`,
			wantDiff: true,
		},
		{
			name:     "ignored fields at depth",
			opts:     []Option{WithIgnoredFields("ts")},
			actual:   `{"items":[{"id":1,"ts":5}],"ts":9}`,
			expected: `{"items":[{"id":1,"ts":0}],"ts":0}`,
		},
		{name: "root arrays", actual: `[{"id":1,"x":2}]`, expected: `[{"id":1}]`},
		{name: "invalid expected", actual: `{}`, expected: `{`, wantDiff: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diff := NewJSONAsserter(t).WithOptions(tt.opts...).diff(tt.actual, tt.expected)
			if tt.wantDiff && diff == "" {
				t.Fatal("expected a diff, got none")
			}
			if !tt.wantDiff && diff != "" {
				t.Fatalf("expected no diff, got:\n%s", diff)
			}
		})
	}
}

func TestJSONAsserter_AssertReportsFailure(t *testing.T) {
	rec := &recordingT{}
	NewJSONAsserter(rec).Assert(`{"phase":"connecting"}`, `{"phase":"connected"}`)

	if len(rec.failures) != 1 {
		t.Fatalf("expected one failure, got %d", len(rec.failures))
	}
}

func TestMustJSON(t *testing.T) {
	if got := MustJSON(map[string]int{"a": 1}); got != `{"a":1}` {
		t.Errorf("MustJSON = %s", got)
	}
}
