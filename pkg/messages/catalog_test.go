package messages

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDefault_RendersParameters(t *testing.T) {
	got := ValueNotExistInTable(Default(), "en", "C<42>", "Customer")
	if got != `The value "C<42>" does not exist in Customer` {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestCatalog_MatchesLocale(t *testing.T) {
	cases := []struct {
		locale string
		want   string
	}{
		{locale: "es-MX", want: "es"},
		{locale: "en-GB", want: "en"},
		{locale: "ja", want: "en"},
		{locale: "", want: "en"},
		{locale: "not a locale!", want: "en"},
	}
	for _, tc := range cases {
		if got := Default().Match(tc.locale); got != tc.want {
			t.Fatalf("match %q: expected %q, got %q", tc.locale, tc.want, got)
		}
	}
}

func TestCatalog_FallbacksForMissingKeys(t *testing.T) {
	catalog, err := NewCatalog(map[string]map[string]string{
		"en": {"Hello": "Hello {{ name }}", "Bye": "Bye"},
		"fr": {"Hello": "Bonjour {{ name }}"},
	})
	if err != nil {
		t.Fatalf("new catalog: %v", err)
	}

	got := []string{
		catalog.Message("fr-CA", "Hello", map[string]any{"name": "Ana"}),
		catalog.Message("fr", "Bye", nil),
		catalog.Message("fr", "Unknown", nil),
	}
	if diff := cmp.Diff([]string{"Bonjour Ana", "Bye", "Unknown"}, got); diff != "" {
		t.Fatalf("messages mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"en", "fr"}, catalog.Locales()); diff != "" {
		t.Fatalf("locales mismatch (-want +got):\n%s", diff)
	}
}

func TestNewCatalog_Errors(t *testing.T) {
	if _, err := NewCatalog(map[string]map[string]string{"en": {"Broken": "{{ value "}}); err == nil {
		t.Fatalf("expected compile error")
	}
	if _, err := NewCatalog(map[string]map[string]string{"fr": {"Hello": "Bonjour"}}); err == nil {
		t.Fatalf("expected missing fallback error")
	}
}

func TestUnexpectedError(t *testing.T) {
	action := Default().Message("es", KeyActionCheckValueExist, nil)
	got := UnexpectedError(Default(), "es", action)
	if got != "Error inesperado: comprobando que el valor existe" {
		t.Fatalf("unexpected message %q", got)
	}
}
