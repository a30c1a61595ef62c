package platform

import (
	"errors"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Platform
		wantErr bool
	}{
		{name: "lowercase", input: "hubspot", want: HubSpot},
		{name: "display name", input: "HubSpot", want: HubSpot},
		{name: "padded", input: "  Notion ", want: Notion},
		{name: "airtable", input: "airtable", want: Airtable},
		{name: "unknown", input: "salesforce", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrUnsupported) {
					t.Fatalf("Parse(%q) error = %v, want ErrUnsupported", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q): %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestValid(t *testing.T) {
	for _, p := range All() {
		if !p.Valid() {
			t.Errorf("%q should be valid", p)
		}
	}
	if Platform("Notion").Valid() {
		t.Error("identifiers are case-sensitive; \"Notion\" should not be valid")
	}
}

func TestEndpoint(t *testing.T) {
	got, err := Notion.Endpoint()
	if err != nil {
		t.Fatalf("Endpoint: %v", err)
	}
	if got != "notion" {
		t.Errorf("Endpoint() = %q, want %q", got, "notion")
	}

	if _, err := Platform("jira").Endpoint(); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Endpoint() error = %v, want ErrUnsupported", err)
	}
}

func TestDisplayName(t *testing.T) {
	if got := HubSpot.DisplayName(); got != "HubSpot" {
		t.Errorf("DisplayName() = %q, want %q", got, "HubSpot")
	}
	if got := Platform("other").DisplayName(); got != "other" {
		t.Errorf("DisplayName() = %q, want %q", got, "other")
	}
}
