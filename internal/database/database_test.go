package database

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	db, err := Open(":memory:", log)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db)
}

func TestCreateOrGetPackage(t *testing.T) {
	s := testStore(t)

	desc := "a test package"
	pkg, err := s.CreateOrGetPackage("left-pad", &desc, nil, true)
	if err != nil {
		t.Fatalf("CreateOrGetPackage: %v", err)
	}
	if pkg.Name != "left-pad" || pkg.Description == nil || *pkg.Description != desc {
		t.Fatalf("unexpected package: %+v", pkg)
	}

	again, err := s.CreateOrGetPackage("left-pad", nil, nil, true)
	if err != nil {
		t.Fatalf("second CreateOrGetPackage: %v", err)
	}
	if again.ID != pkg.ID {
		t.Fatalf("expected same row, got different id")
	}
	if again.Description == nil || *again.Description != desc {
		t.Fatalf("description should be unchanged when new description is nil")
	}

	newDesc := "updated"
	updated, err := s.CreateOrGetPackage("left-pad", &newDesc, nil, true)
	if err != nil {
		t.Fatalf("third CreateOrGetPackage: %v", err)
	}
	if updated.Description == nil || *updated.Description != newDesc {
		t.Fatalf("description should have been updated, got %+v", updated.Description)
	}
}

func TestCreateOrGetPackageVersionReEnrichment(t *testing.T) {
	s := testStore(t)

	pkg, err := s.CreateOrGetPackage("acme", nil, nil, false)
	if err != nil {
		t.Fatalf("CreateOrGetPackage: %v", err)
	}

	empty := ""
	v, err := s.CreateOrGetPackageVersionWithMetadata(pkg.ID, "1.0.0", VersionMetadata{Readme: &empty}, false)
	if err != nil {
		t.Fatalf("create version: %v", err)
	}
	if !v.ReadmeMissing() {
		t.Fatalf("expected empty readme to be treated as missing")
	}

	readme := "# Acme"
	desc := "the acme package"
	v2, err := s.CreateOrGetPackageVersionWithMetadata(pkg.ID, "1.0.0", VersionMetadata{Readme: &readme, Description: &desc}, false)
	if err != nil {
		t.Fatalf("re-enrich version: %v", err)
	}
	if v2.Readme == nil || *v2.Readme != readme {
		t.Fatalf("expected version to be re-enriched, got %+v", v2)
	}

	otherDesc := "should not apply"
	v3, err := s.CreateOrGetPackageVersionWithMetadata(pkg.ID, "1.0.0", VersionMetadata{Description: &otherDesc}, false)
	if err != nil {
		t.Fatalf("no-op update: %v", err)
	}
	if v3.Description == nil || *v3.Description != desc {
		t.Fatalf("version already has metadata and a README, should not have been overwritten, got %+v", v3.Description)
	}
}

func TestGetPackagesPaginatedSortFallback(t *testing.T) {
	s := testStore(t)

	for _, name := range []string{"zeta", "alpha", "mu"} {
		if _, err := s.CreateOrGetPackage(name, nil, nil, false); err != nil {
			t.Fatalf("seed package %s: %v", name, err)
		}
	}

	pkgs, total, err := s.GetPackagesPaginated(PaginationParams{Limit: 10, SortBy: "not_a_real_column", Order: "bogus"})
	if err != nil {
		t.Fatalf("GetPackagesPaginated: %v", err)
	}
	if total != 3 || len(pkgs) != 3 {
		t.Fatalf("expected 3 packages, got total=%d len=%d", total, len(pkgs))
	}

	sorted, _, err := s.GetPackagesPaginated(PaginationParams{Limit: 10, SortBy: "name", Order: "asc"})
	if err != nil {
		t.Fatalf("GetPackagesPaginated sorted: %v", err)
	}
	if sorted[0].Name != "alpha" || sorted[2].Name != "zeta" {
		t.Fatalf("expected alphabetical order, got %v", []string{sorted[0].Name, sorted[1].Name, sorted[2].Name})
	}
}

func TestOrganizationLastOwnerInvariant(t *testing.T) {
	s := testStore(t)

	owner, err := s.CreateUser("charlie", "charlie@example.com", "hash")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	org, err := s.CreateOrganization("myorg", nil, nil, owner.ID)
	if err != nil {
		t.Fatalf("CreateOrganization: %v", err)
	}

	if err := s.RemoveOrganizationMember(org.ID, owner.ID); err == nil {
		t.Fatal("expected last-owner removal to fail")
	}

	second, err := s.CreateUser("dana", "dana@example.com", "hash")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if _, err := s.AddOrganizationMember(org.ID, second.ID, "owner"); err != nil {
		t.Fatalf("AddOrganizationMember: %v", err)
	}
	if err := s.RemoveOrganizationMember(org.ID, owner.ID); err != nil {
		t.Fatalf("removal should now succeed with a second owner present: %v", err)
	}
}

func TestExtractOrganizationName(t *testing.T) {
	cases := []struct {
		name     string
		wantOrg  string
		wantOK   bool
	}{
		{"@types/node", "types", true},
		{"lodash", "", false},
		{"@scope-only", "", false},
	}
	for _, c := range cases {
		org, ok := ExtractOrganizationName(c.name)
		if org != c.wantOrg || ok != c.wantOK {
			t.Errorf("ExtractOrganizationName(%q) = (%q, %v), want (%q, %v)", c.name, org, ok, c.wantOrg, c.wantOK)
		}
	}
}
