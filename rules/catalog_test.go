package rules

import (
	"strings"
	"testing"
)

func TestNewCatalogDropsMalformedTechniques(t *testing.T) {
	tests := []struct {
		name    string
		def     Technique
		wantErr string
	}{
		{
			name:    "missing id",
			def:     Technique{Shape: ShapeConfig, ObjectClasses: []string{"authority"}},
			wantErr: "missing technique id",
		},
		{
			name:    "unknown shape",
			def:     Technique{ID: "X1", Shape: "object", ObjectClasses: []string{"authority"}},
			wantErr: "unknown shape",
		},
		{
			name:    "no object classes",
			def:     Technique{ID: "X1", Shape: ShapeConfig},
			wantErr: "no object classes",
		},
		{
			name:    "unknown object class",
			def:     Technique{ID: "X1", Shape: ShapeConfig, ObjectClasses: []string{"domain"}},
			wantErr: "unknown object class",
		},
		{
			name: "unknown property",
			def: Technique{
				ID: "X1", Shape: ShapeConfig, ObjectClasses: []string{"authority"},
				Conditions: []Condition{{Property: "AuditingEnabled", Equals: true}},
			},
			wantErr: "unknown property",
		},
		{
			name:    "principal shape without lists",
			def:     Technique{ID: "X1", Shape: ShapePrincipal, ObjectClasses: []string{"template"}},
			wantErr: "no principal lists",
		},
		{
			name: "unknown principal list",
			def: Technique{
				ID: "X1", Shape: ShapePrincipal, ObjectClasses: []string{"template"},
				PrincipalLists: []string{"Enrollees"},
			},
			wantErr: "unknown principal list",
		},
		{
			name: "config shape with lists",
			def: Technique{
				ID: "X1", Shape: ShapeConfig, ObjectClasses: []string{"authority"},
				PrincipalLists: []string{"LowPrivEnrollees"},
			},
			wantErr: "must not declare principal lists",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			// A valid sibling proves only the malformed technique is dropped.
			valid := Technique{
				ID: "OK1", Shape: ShapeConfig, ObjectClasses: []string{"authority"},
				Conditions: []Condition{{Property: "AuditingDisabled", Equals: true}},
			}

			c, errs := NewCatalog([]Technique{tc.def, valid})
			if len(errs) != 1 {
				t.Fatalf("got %d errors, want 1: %v", len(errs), errs)
			}
			if !strings.Contains(errs[0].Error(), tc.wantErr) {
				t.Errorf("error %q does not mention %q", errs[0], tc.wantErr)
			}
			if ids := c.Techniques(); len(ids) != 1 || ids[0] != "OK1" {
				t.Errorf("Techniques() = %v, want [OK1]", ids)
			}
		})
	}
}

func TestDefaultTechniquesCompile(t *testing.T) {
	c, errs := NewCatalog(DefaultTechniques())
	if len(errs) > 0 {
		t.Fatalf("built-in catalog has compile errors: %v", errs)
	}

	ids := c.Techniques()
	want := []string{"AUDIT", "ESC1", "ESC2", "ESC3", "ESC4", "ESC5", "ESC6", "ESC7", "ESC8", "ESC11"}
	if len(ids) != len(want) {
		t.Fatalf("Techniques() = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("Techniques()[%d] = %q, want %q", i, ids[i], want[i])
		}
	}
}
