package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

type textResult struct{ allowed bool }

func (r textResult) Text() string {
	if r.allowed {
		return "allowed"
	}
	return "denied"
}

func sampleTable() *Table {
	return &Table{
		Headers: []string{"user_id", "count", "tier"},
		Rows: [][]string{
			{"u1", "8", "free"},
			{"user-two", "5", "pro"},
		},
	}
}

func TestTextFormatter(t *testing.T) {
	buf := &bytes.Buffer{}
	if err := (&TextFormatter{}).FormatTo(buf, "test message"); err != nil {
		t.Fatalf("FormatTo() error = %v", err)
	}
	if buf.String() != "test message\n" {
		t.Errorf("FormatTo() = %q, want %q", buf.String(), "test message\n")
	}
}

func TestTextFormatter_Texter(t *testing.T) {
	buf := &bytes.Buffer{}
	if err := (&TextFormatter{}).FormatTo(buf, textResult{allowed: true}); err != nil {
		t.Fatalf("FormatTo() error = %v", err)
	}
	if buf.String() != "allowed\n" {
		t.Errorf("FormatTo() = %q, want %q", buf.String(), "allowed\n")
	}
}

func TestTextFormatter_Table(t *testing.T) {
	buf := &bytes.Buffer{}
	if err := (&TextFormatter{}).FormatTo(buf, sampleTable()); err != nil {
		t.Fatalf("FormatTo() error = %v", err)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d: %q", len(lines), buf.String())
	}
	if lines[0] != "user_id   count  tier" {
		t.Errorf("unexpected header line %q", lines[0])
	}
	if lines[2] != "user-two  5      pro" {
		t.Errorf("unexpected row %q", lines[2])
	}
}

func TestJSONFormatter_Table(t *testing.T) {
	buf := &bytes.Buffer{}
	if err := (&JSONFormatter{}).FormatTo(buf, sampleTable()); err != nil {
		t.Fatalf("FormatTo() error = %v", err)
	}

	var got []map[string]string
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(got) != 2 || got[0]["user_id"] != "u1" || got[1]["tier"] != "pro" {
		t.Errorf("unexpected records %v", got)
	}
}

func TestJSONFormatter_Indent(t *testing.T) {
	buf := &bytes.Buffer{}
	data := map[string]int{"count": 3}
	if err := (&JSONFormatter{Indent: true}).FormatTo(buf, data); err != nil {
		t.Fatalf("FormatTo() error = %v", err)
	}
	if !strings.Contains(buf.String(), "\n  \"count\": 3") {
		t.Errorf("expected indented output, got %q", buf.String())
	}
}

func TestCSVFormatter(t *testing.T) {
	buf := &bytes.Buffer{}
	if err := (&CSVFormatter{}).FormatTo(buf, sampleTable()); err != nil {
		t.Fatalf("FormatTo() error = %v", err)
	}

	want := "user_id,count,tier\nu1,8,free\nuser-two,5,pro\n"
	if buf.String() != want {
		t.Errorf("FormatTo() = %q, want %q", buf.String(), want)
	}

	if err := (&CSVFormatter{}).FormatTo(buf, "not a table"); err == nil {
		t.Error("expected error for non-table data")
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    OutputFormat
		wantErr bool
	}{
		{"", FormatText, false},
		{"text", FormatText, false},
		{"json", FormatJSON, false},
		{"csv", FormatCSV, false},
		{"yaml", "", true},
	}

	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFormat(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
		}
		var cfgErr *ConfigError
		if tt.wantErr && !errors.As(err, &cfgErr) {
			t.Errorf("ParseFormat(%q) error should be a ConfigError", tt.in)
		}
	}
}

func TestNewFormatter(t *testing.T) {
	if _, ok := NewFormatter(FormatJSON).(*JSONFormatter); !ok {
		t.Error("expected JSONFormatter")
	}
	if _, ok := NewFormatter(FormatCSV).(*CSVFormatter); !ok {
		t.Error("expected CSVFormatter")
	}
	if _, ok := NewFormatter("other").(*TextFormatter); !ok {
		t.Error("expected TextFormatter fallback")
	}
}
