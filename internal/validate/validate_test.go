package validate

import (
	"testing"

	"personetl/internal/record"
)

func raw(values map[string]string) record.Raw {
	cols := []string{"nombre", "edad", "ciudad"}
	return record.Raw{Line: 1, Columns: cols, Values: values}
}

func TestValidate_AcceptsAndNormalizes(t *testing.T) {
	t.Parallel()

	v := New(DefaultAgeMin, DefaultAgeMax)

	p, reason, ok := v.Validate(raw(map[string]string{
		"nombre": "  ANA maria ",
		"edad":   "30",
		"ciudad": " MADRID ",
	}))
	if !ok {
		t.Fatalf("expected accept, got reason=%s", reason)
	}
	if p.Name != "Ana maria" {
		t.Errorf("name = %q, want %q", p.Name, "Ana maria")
	}
	if p.Age != 30 {
		t.Errorf("age = %d, want 30", p.Age)
	}
	if p.City != "Madrid" {
		t.Errorf("city = %q, want %q", p.City, "Madrid")
	}
}

func TestValidate_CityVariantsConverge(t *testing.T) {
	t.Parallel()

	v := New(DefaultAgeMin, DefaultAgeMax)

	variants := []string{"Madrid", " madrid ", "MADRID", "mAdRiD"}
	for _, c := range variants {
		p, _, ok := v.Validate(raw(map[string]string{"nombre": "Ana", "edad": "30", "ciudad": c}))
		if !ok {
			t.Fatalf("variant %q rejected", c)
		}
		if p.City != "Madrid" {
			t.Errorf("variant %q normalized to %q, want Madrid", c, p.City)
		}
	}
}

func TestValidate_MultiWordCity(t *testing.T) {
	t.Parallel()

	v := New(DefaultAgeMin, DefaultAgeMax)

	p, _, ok := v.Validate(raw(map[string]string{"nombre": "Luis", "edad": "40", "ciudad": "buenos aires"}))
	if !ok {
		t.Fatal("rejected")
	}
	if p.City != "Buenos Aires" {
		t.Errorf("city = %q, want %q", p.City, "Buenos Aires")
	}
}

func TestValidate_RejectionReasons(t *testing.T) {
	t.Parallel()

	v := New(DefaultAgeMin, DefaultAgeMax)

	cases := []struct {
		name   string
		values map[string]string
		want   record.Reason
	}{
		{
			name:   "age column absent",
			values: map[string]string{"nombre": "Luis", "ciudad": "Bogota"},
			want:   record.ReasonMissingField,
		},
		{
			name:   "all columns absent",
			values: map[string]string{},
			want:   record.ReasonMissingField,
		},
		{
			name:   "whitespace-only name",
			values: map[string]string{"nombre": "   ", "edad": "30", "ciudad": "Bogota"},
			want:   record.ReasonEmptyValue,
		},
		{
			name:   "age not an integer",
			values: map[string]string{"nombre": "Luis", "edad": "treinta", "ciudad": "Bogota"},
			want:   record.ReasonInvalidType,
		},
		{
			name:   "age decimal",
			values: map[string]string{"nombre": "Luis", "edad": "30.5", "ciudad": "Bogota"},
			want:   record.ReasonInvalidType,
		},
		{
			name:   "age negative",
			values: map[string]string{"nombre": "Luis", "edad": "-1", "ciudad": "Bogota"},
			want:   record.ReasonOutOfRange,
		},
		{
			name:   "age above range",
			values: map[string]string{"nombre": "Luis", "edad": "131", "ciudad": "Bogota"},
			want:   record.ReasonOutOfRange,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, reason, ok := v.Validate(raw(tc.values))
			if ok {
				t.Fatal("expected rejection")
			}
			if reason != tc.want {
				t.Errorf("reason = %s, want %s", reason, tc.want)
			}
			if !reason.Known() {
				t.Errorf("reason %s not in the closed set", reason)
			}
		})
	}
}

func TestValidate_FirstFailingCheckWins(t *testing.T) {
	t.Parallel()

	v := New(DefaultAgeMin, DefaultAgeMax)

	// Missing field is checked before the unparseable age.
	_, reason, ok := v.Validate(raw(map[string]string{"edad": "abc"}))
	if ok || reason != record.ReasonMissingField {
		t.Fatalf("reason = %s ok=%v, want missing_field", reason, ok)
	}
}

func TestValidate_Deterministic(t *testing.T) {
	t.Parallel()

	v := New(DefaultAgeMin, DefaultAgeMax)
	in := raw(map[string]string{"nombre": "ana", "edad": "30", "ciudad": "madrid"})

	first, _, _ := v.Validate(in)
	for i := 0; i < 10; i++ {
		p, _, ok := v.Validate(in)
		if !ok || p != first {
			t.Fatalf("classification changed on repeat: %+v vs %+v", p, first)
		}
	}
}

func TestValidate_CustomAgeBounds(t *testing.T) {
	t.Parallel()

	v := New(25, 65)
	_, reason, ok := v.Validate(raw(map[string]string{"nombre": "Ana", "edad": "24", "ciudad": "Madrid"}))
	if ok || reason != record.ReasonOutOfRange {
		t.Fatalf("expected out_of_range below custom minimum, got %s ok=%v", reason, ok)
	}
	if _, _, ok := v.Validate(raw(map[string]string{"nombre": "Ana", "edad": "25", "ciudad": "Madrid"})); !ok {
		t.Fatal("minimum bound should be inclusive")
	}
}
