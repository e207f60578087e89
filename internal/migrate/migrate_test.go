package migrate

import (
	"testing"

	"turnstile/internal/db"
)

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := db.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()

	if err := Migrate(conn); err != nil {
		t.Fatalf("first migrate: %v", err)
	}
	var version int
	if err := conn.QueryRow(`PRAGMA user_version`).Scan(&version); err != nil {
		t.Fatalf("read user_version: %v", err)
	}
	if version == 0 {
		t.Fatalf("user_version not advanced")
	}

	if err := Migrate(conn); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	var again int
	if err := conn.QueryRow(`PRAGMA user_version`).Scan(&again); err != nil {
		t.Fatal(err)
	}
	if again != version {
		t.Fatalf("user_version moved on rerun: %d -> %d", version, again)
	}

	// The schema is actually usable after migration.
	if _, err := conn.Exec(`INSERT INTO orgs(id, name) VALUES ('o1', 'Org')`); err != nil {
		t.Fatalf("insert into migrated schema: %v", err)
	}
}
