package mangle

import "testing"

func TestParseVariant(t *testing.T) {
	tests := []struct {
		s    string
		v    Variant
		ok   bool
		name string
	}{
		{s: "", v: Normal, ok: true, name: "normal"},
		{s: "normal", v: Normal, ok: true, name: "normal"},
		{s: "TARPIT", v: Tarpit, ok: true, name: "tarpit"},
		{s: "Delude", v: Delude, ok: true, name: "delude"},
		{s: "scramble"},
	}

	for _, tt := range tests {
		t.Run(tt.s, func(t *testing.T) {
			v, err := ParseVariant(tt.s)
			if tt.ok && err != nil {
				t.Fatalf("failed to parse: %v", err)
			}
			if !tt.ok {
				if err == nil {
					t.Fatal("expected an error, but none occurred")
				}
				return
			}

			if v != tt.v {
				t.Fatalf("unexpected variant: want %d, got %d", tt.v, v)
			}
			if got := v.String(); got != tt.name {
				t.Fatalf("unexpected name: want %q, got %q", tt.name, got)
			}
		})
	}

	if got := Variant(9).String(); got != "Variant(9)" {
		t.Fatalf("unexpected unknown variant name: %q", got)
	}
}
