package province

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"airhealth/internal/table"
)

func fullMap() map[string][]string {
	m := make(map[string][]string, ExpectedCount)
	for i := 0; i < ExpectedCount-3; i++ {
		name := fmt.Sprintf("P%02d", i)
		m[name] = []string{name}
	}
	m["Madrid"] = []string{"28 Madrid"}
	m["Barcelona"] = []string{"08 Barcelona"}
	m["Valencia/València"] = []string{"Valencia", "46 Valencia/València"}
	return m
}

func TestDefault_HasAllProvinces(t *testing.T) {
	t.Parallel()

	c, err := Default()
	if err != nil {
		t.Fatalf("Default() err=%v", err)
	}
	if c.Len() != ExpectedCount {
		t.Fatalf("Len()=%d, want %d", c.Len(), ExpectedCount)
	}
	for in, want := range map[string]string{
		"28 Madrid":     "Madrid",
		"Vizcaya":       "Bizkaia",
		"Coruña, A":     "A Coruña",
		"Illes Balears": "Balears, Illes",
	} {
		if got, ok := c.Canonical(in); !ok || got != want {
			t.Fatalf("Canonical(%q)=(%q,%v), want %q", in, got, ok, want)
		}
	}
}

func TestFromMap_WrongCount(t *testing.T) {
	t.Parallel()

	_, err := FromMap(map[string][]string{"Madrid": {"Madrid"}, "Barcelona": {"Barcelona"}})
	if !errors.Is(err, ErrProvinceCount) {
		t.Fatalf("FromMap() err=%v, want ErrProvinceCount", err)
	}
	if !strings.Contains(err.Error(), "expected 52 provinces") {
		t.Fatalf("err=%q, want count detail", err.Error())
	}
}

func TestFromMap_Collision(t *testing.T) {
	t.Parallel()

	m := fullMap()
	m["Barcelona"] = append(m["Barcelona"], "28 Madrid")
	_, err := FromMap(m)
	if !errors.Is(err, ErrVariantCollision) {
		t.Fatalf("FromMap() err=%v, want ErrVariantCollision", err)
	}
	if !strings.Contains(err.Error(), `"28 Madrid"`) {
		t.Fatalf("err=%q, want offending variant named", err.Error())
	}
}

func TestApply(t *testing.T) {
	t.Parallel()

	c, err := FromMap(fullMap())
	if err != nil {
		t.Fatalf("FromMap() err=%v", err)
	}
	tb := table.MustNew(table.NewColumn("Province", table.String, []any{
		"28 Madrid", "08 Barcelona", "Valencia", "Unknown Province", nil, "madrid",
	}))

	st, err := c.Apply(tb, "Province")
	if err != nil {
		t.Fatalf("Apply() err=%v", err)
	}
	want := []any{"Madrid", "Barcelona", "Valencia/València", "Unknown Province", nil, "madrid"}
	if got := tb.Column("Province").Values; !reflect.DeepEqual(got, want) {
		t.Fatalf("Province=%v, want %v", got, want)
	}
	if st.Mapped != 3 {
		t.Fatalf("Mapped=%d, want 3", st.Mapped)
	}
	if !reflect.DeepEqual(st.Unmapped, []string{"Unknown Province", "madrid"}) {
		t.Fatalf("Unmapped=%v", st.Unmapped)
	}

	// Idempotent: a second pass changes nothing.
	before := append([]any(nil), tb.Column("Province").Values...)
	st2, err := c.Apply(tb, "Province")
	if err != nil {
		t.Fatalf("Apply() second err=%v", err)
	}
	if st2.Mapped != 0 || !reflect.DeepEqual(before, tb.Column("Province").Values) {
		t.Fatalf("second Apply changed data: stats=%+v", st2)
	}
}

func TestApply_NFCNormalization(t *testing.T) {
	t.Parallel()

	c, err := Default()
	if err != nil {
		t.Fatalf("Default() err=%v", err)
	}
	decomposed := "A\u0301vila"
	got, ok := c.Canonical(decomposed)
	if !ok || got != "Ávila" {
		t.Fatalf("Canonical(decomposed)=(%q,%v), want Ávila", got, ok)
	}
}

func TestApply_MissingColumnAndEmpty(t *testing.T) {
	t.Parallel()

	c, err := Default()
	if err != nil {
		t.Fatalf("Default() err=%v", err)
	}
	noCol := table.MustNew(table.NewColumn("City", table.String, []any{"Madrid"}))
	if _, err := c.Apply(noCol, "Province"); !errors.Is(err, ErrMissingColumn) {
		t.Fatalf("Apply(no column) err=%v, want ErrMissingColumn", err)
	}

	empty := table.MustNew(table.NewColumn("Province", table.String, nil))
	if _, err := c.Apply(empty, "Province"); err != nil {
		t.Fatalf("Apply(empty) err=%v, want nil", err)
	}
}
