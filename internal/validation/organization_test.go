package validation

import "testing"

func TestOrganizationName(t *testing.T) {
	cases := []struct {
		name    string
		wantErr bool
	}{
		{"", true},
		{"acme", false},
		{"_private", false},
		{"acme-widgets", false},
		{"acme.widgets", false},
		{".leading-dot", true},
		{"-leading-hyphen", true},
		{"9numbers", true},
		{"has spaces", true},
		{"has/slash", true},
	}
	for _, c := range cases {
		err := OrganizationName(c.name)
		if (err != nil) != c.wantErr {
			t.Errorf("OrganizationName(%q) error = %v, wantErr %v", c.name, err, c.wantErr)
		}
	}
}

func TestOrganizationNameMaxLength(t *testing.T) {
	long := make([]byte, 51)
	for i := range long {
		long[i] = 'a'
	}
	if err := OrganizationName(string(long)); err == nil {
		t.Fatal("expected error for 51-character name")
	}
}

func TestRole(t *testing.T) {
	if _, err := Role("owner"); err != nil {
		t.Fatalf("Role(owner): %v", err)
	}
	if _, err := Role("ADMIN"); err != nil {
		t.Fatalf("Role should be case-insensitive: %v", err)
	}
	if _, err := Role("superuser"); err == nil {
		t.Fatal("expected error for unknown role")
	}
}
