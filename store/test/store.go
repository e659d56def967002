package test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hrygo/dayflow/internal/profile"
	"github.com/hrygo/dayflow/store"
	"github.com/hrygo/dayflow/store/db"
)

// NewTestingStore opens a migrated store for the driver named by
// DAYFLOW_TEST_DRIVER (sqlite unless set). The postgres driver reads its DSN
// from POSTGRES_TEST_DSN and skips the test when it is absent.
func NewTestingStore(ctx context.Context, t *testing.T) *store.Store {
	t.Helper()

	p := &profile.Profile{
		Mode:   "dev",
		Driver: getDriverFromEnv(),
		Data:   t.TempDir(),
	}
	switch p.Driver {
	case "postgres":
		p.DSN = os.Getenv("POSTGRES_TEST_DSN")
		if p.DSN == "" {
			t.Skip("POSTGRES_TEST_DSN not set")
		}
	default:
		p.DSN = filepath.Join(p.Data, "dayflow_test.db")
	}

	driver, err := db.NewDBDriver(p)
	if err != nil {
		t.Fatalf("failed to create db driver: %v", err)
	}
	s := store.New(driver, p)
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate db: %v", err)
	}
	t.Cleanup(func() {
		if p.Driver == "postgres" {
			_, _ = driver.GetDB().ExecContext(context.Background(), "DROP TABLE IF EXISTS task")
		}
		_ = s.Close()
	})
	return s
}

func getDriverFromEnv() string {
	if driver := os.Getenv("DAYFLOW_TEST_DRIVER"); driver != "" {
		return driver
	}
	return "sqlite"
}
