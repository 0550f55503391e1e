package device

import (
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestDurationUnmarshalYAML(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "500ms", want: 500 * time.Millisecond},
		{in: "2s", want: 2 * time.Second},
		{in: "1m30s", want: 90 * time.Second},
		{in: "2", want: 2 * time.Second},
		{in: "0.5", want: 500 * time.Millisecond},
		{in: "soon", wantErr: true},
	}

	for _, tt := range tests {
		var d Duration
		err := yaml.Unmarshal([]byte(tt.in), &d)
		if tt.wantErr {
			if err == nil {
				t.Errorf("Unmarshal(%q) accepted, want error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("Unmarshal(%q) error = %v", tt.in, err)
			continue
		}
		if d.Std() != tt.want {
			t.Errorf("Unmarshal(%q) = %s, want %s", tt.in, d, tt.want)
		}
	}
}

func TestDurationMarshalYAML(t *testing.T) {
	out, err := yaml.Marshal(Duration(1500 * time.Millisecond))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if got := string(out); got != "1.5s\n" {
		t.Errorf("Marshal() = %q, want %q", got, "1.5s\n")
	}
}
