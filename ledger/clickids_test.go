package ledger_test

import (
	"testing"

	"github.com/trackwell/beacon/ledger"
)

func TestExtractClickIDs(t *testing.T) {
	tests := []struct {
		name        string
		attribution map[string]string
		want        map[string]string
	}{
		{
			name:        "nil attribution",
			attribution: nil,
			want:        nil,
		},
		{
			name:        "empty attribution",
			attribution: map[string]string{},
			want:        nil,
		},
		{
			name:        "no click IDs present",
			attribution: map[string]string{"utm_source": "newsletter", "utm_medium": "email"},
			want:        nil,
		},
		{
			name: "google click ID",
			attribution: map[string]string{
				"gclid":      "CjwKCA-example",
				"utm_source": "google",
			},
			want: map[string]string{"gclid": "CjwKCA-example"},
		},
		{
			name: "multiple platforms",
			attribution: map[string]string{
				"gclid":  "g-1",
				"fbclid": "fb-2",
				"ttclid": "tt-3",
				"epik":   "pin-4",
			},
			want: map[string]string{
				"gclid":  "g-1",
				"fbclid": "fb-2",
				"ttclid": "tt-3",
				"epik":   "pin-4",
			},
		},
		{
			name:        "empty values skipped",
			attribution: map[string]string{"gclid": "", "msclkid": "ms-1"},
			want:        map[string]string{"msclkid": "ms-1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ledger.ExtractClickIDs(tt.attribution)
			if len(got) != len(tt.want) {
				t.Fatalf("ExtractClickIDs() = %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("key %q = %q, want %q", k, got[k], v)
				}
			}
		})
	}
}
