package store

import "testing"

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("file::memory:?cache=shared")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenRunsMigrations(t *testing.T) {
	s := openTestStore(t)
	var n int
	if err := s.DB().QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&n); err != nil {
		t.Fatalf("query schema_migrations: %v", err)
	}
	if n == 0 {
		t.Fatal("expected at least one migration to have been recorded")
	}
}

func TestCreateAccountIsIdempotent(t *testing.T) {
	s := openTestStore(t)

	a1, err := s.CreateAccount("acct-1")
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	a2, err := s.CreateAccount("acct-1")
	if err != nil {
		t.Fatalf("CreateAccount (second call): %v", err)
	}
	if a1.ID != a2.ID || a1.CreatedAt != a2.CreatedAt {
		t.Fatalf("CreateAccount should be a no-op the second time, got %+v and %+v", a1, a2)
	}
}

func TestGetAccountMissingReturnsNilNil(t *testing.T) {
	s := openTestStore(t)
	a, err := s.GetAccount("does-not-exist")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if a != nil {
		t.Fatalf("GetAccount = %+v, want nil", a)
	}
}
