package config

import (
	"testing"
	"time"

	"gopkg.in/yaml.v3"
	"pgregory.net/rapid"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		input   string
		want    time.Duration
		wantErr bool
	}{
		{"10s", 10 * time.Second, false},
		{"5500ms", 5500 * time.Millisecond, false},
		{"1.5h", 90 * time.Minute, false},
		{"2d", 48 * time.Hour, false},
		{"1d12h", 36 * time.Hour, false},
		{"30", 30 * time.Second, false},
		{"0.5", 500 * time.Millisecond, false},
		{"  ", 0, false},
		{"-3", 0, true},
		{"-1m", 0, true},
		{"xd", 0, true},
		{"NaN", 0, true},
		{"3x", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseDuration(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseDuration(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseDuration(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestParseDuration_AcceptsOwnFormat(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		d := time.Duration(rapid.Int64Range(0, int64(30*24*time.Hour)).Draw(t, "d"))
		got, err := ParseDuration(Duration(d).String())
		if err != nil {
			t.Fatalf("ParseDuration(%q): %v", d.String(), err)
		}
		if got != d {
			t.Fatalf("ParseDuration(%q) = %v", d.String(), got)
		}
	})
}

func TestDurationYAML(t *testing.T) {
	var s struct {
		Wait  Duration `yaml:"wait"`
		Pause Duration `yaml:"pause"`
	}
	if err := yaml.Unmarshal([]byte("wait: 1d30m\npause: 2\n"), &s); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if s.Wait.Std() != 24*time.Hour+30*time.Minute {
		t.Errorf("wait = %v", s.Wait)
	}
	if s.Pause.Std() != 2*time.Second {
		t.Errorf("pause = %v", s.Pause)
	}

	out, err := yaml.Marshal(struct {
		Wait Duration `yaml:"wait"`
	}{Duration(90 * time.Second)})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != "wait: 1m30s\n" {
		t.Errorf("marshal = %q", out)
	}

	if err := yaml.Unmarshal([]byte("wait: [1, 2]\n"), &s); err == nil {
		t.Error("expected error for a sequence")
	}
	if err := yaml.Unmarshal([]byte("wait: 3x\n"), &s); err == nil {
		t.Error("expected error for unknown unit")
	}
}
