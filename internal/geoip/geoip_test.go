package geoip

import (
	"testing"
)

func TestHostFromURL(t *testing.T) {
	cases := []struct {
		name    string
		rawURL  string
		want    string
		wantErr bool
	}{
		{"full_url", "https://place.example.co.kr/listing/42", "place.example.co.kr", false},
		{"with_port", "http://catalog.example.com:8443/p/9", "catalog.example.com", false},
		{"bare_host", "catalog.example.com", "catalog.example.com", false},
		{"ip_host", "http://203.0.113.10/p/1", "203.0.113.10", false},
		{"path_only", "/listing/42", "", true},
		{"empty", "", "", true},
	}
	for _, tc := range cases {
		got, err := hostFromURL(tc.rawURL)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%s: expected error for %q, got %q", tc.name, tc.rawURL, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: hostFromURL(%q) error: %v", tc.name, tc.rawURL, err)
		}
		if got != tc.want {
			t.Fatalf("%s: hostFromURL(%q)=%q want %q", tc.name, tc.rawURL, got, tc.want)
		}
	}
}

func TestResolverRequiresDBPath(t *testing.T) {
	t.Setenv("GEOIP_DB_PATH", "")
	r := NewResolver()
	if _, _, err := r.CountryForURL("https://catalog.example.com/p/1"); err == nil {
		t.Fatal("expected error when GEOIP_DB_PATH is unset")
	}
}
