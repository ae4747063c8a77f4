//go:build integration

package review

import (
	"testing"

	"github.com/amerfu/pguard/internal/testutil"
)

func TestPostgresQueue(t *testing.T) {
	db, cleanup := testutil.NewTestDB(t)
	defer cleanup()

	queueContract(t, NewPostgresQueue(db))
}
