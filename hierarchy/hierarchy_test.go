package hierarchy

import "testing"

func TestPathFullPath(t *testing.T) {
	cfg := DefaultConfiguration()
	tests := []struct {
		name   string
		values map[string]string
		want   string
	}{
		{"empty", nil, ""},
		{"enterprise only", map[string]string{"Enterprise": "Acme"}, "Acme"},
		{
			"full",
			map[string]string{
				"Enterprise": "Acme", "Site": "Dallas", "Area": "Press",
				"WorkCenter": "Line1", "WorkUnit": "Unit1", "Property": "Temp",
			},
			"Acme/Dallas/Press/Line1/Unit1/Temp",
		},
		{
			"skips missing middle level",
			map[string]string{"Enterprise": "Acme", "Area": "Press"},
			"Acme/Press",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPath(cfg)
			for k, v := range tt.values {
				p.SetValue(k, v)
			}
			if got := p.FullPath(); got != tt.want {
				t.Errorf("FullPath() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPathEqualIgnoresMissingOptionalLevels(t *testing.T) {
	cfg := DefaultConfiguration()
	a := NewPath(cfg)
	a.SetValue("Enterprise", "Acme")
	a.SetValue("Site", "Dallas")

	b := NewPath(cfg)
	b.SetValue("Enterprise", "Acme")
	b.SetValue("Site", "Dallas")
	b.SetValue("Area", "")

	if !a.Equal(b) {
		t.Errorf("expected paths with only empty-string differences to be equal")
	}

	c := NewPath(cfg)
	c.SetValue("Enterprise", "Acme")
	c.SetValue("Site", "Austin")
	if a.Equal(c) {
		t.Errorf("expected paths with differing non-empty values to compare unequal")
	}
}

func TestPathCaseInsensitiveLevelLookup(t *testing.T) {
	cfg := DefaultConfiguration()
	p := NewPath(cfg)
	p.SetValue("enterprise", "Acme")
	if got := p.GetValue("Enterprise"); got != "Acme" {
		t.Errorf("GetValue(\"Enterprise\") = %q, want Acme", got)
	}
}

func TestFromPath(t *testing.T) {
	cfg := DefaultConfiguration()
	tests := []struct {
		name  string
		input string
		want  map[string]string
	}{
		{"simple", "Acme/Dallas/Press", map[string]string{
			"Enterprise": "Acme", "Site": "Dallas", "Area": "Press",
		}},
		{"surplus collapses into last level", "Acme/Dallas/Press/Line1/Unit1/Temp/Extra", map[string]string{
			"Enterprise": "Acme", "Site": "Dallas", "Area": "Press",
			"WorkCenter": "Line1", "WorkUnit": "Unit1", "Property": "Temp/Extra",
		}},
		{"empty segments skipped", "Acme//Dallas", map[string]string{
			"Enterprise": "Acme", "Site": "Dallas",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := FromPath(cfg, tt.input)
			for k, want := range tt.want {
				if got := p.GetValue(k); got != want {
					t.Errorf("GetValue(%q) = %q, want %q", k, got, want)
				}
			}
		})
	}
}

func TestRegistryActivateAndDelete(t *testing.T) {
	r := NewRegistry()
	custom := &Configuration{Name: "custom", Levels: DefaultLevels}
	r.Add(custom)

	if err := r.Activate("custom"); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if r.Active().Name != "custom" {
		t.Fatalf("Active() = %q, want custom", r.Active().Name)
	}

	if err := r.Delete("custom"); err == nil {
		t.Fatalf("expected error deleting the active configuration")
	}

	if err := r.Activate("ISA-95 Default"); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if err := r.Delete("custom"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
}
