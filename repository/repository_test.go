package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"tmai-server/apperr"
	"tmai-server/models"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// getTestDB returns a repository connected to the test database.
// If DATABASE_URL is not set, the test is skipped.
func getTestDB(t *testing.T) *Repository {
	t.Helper()

	connString := os.Getenv("DATABASE_URL")
	if connString == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	repo, err := NewRepository(ctx, connString)
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}

	return repo
}

// createTestService inserts a service owned by a fresh tenant
func createTestService(t *testing.T, repo *Repository) *models.Service {
	t.Helper()
	svc := &models.Service{
		OwnerID: uuid.New(),
		Name:    "Test Assistant",
		Slug:    "test-" + uuid.NewString(),
	}
	if err := repo.CreateService(context.Background(), svc); err != nil {
		t.Fatalf("failed to create test service: %v", err)
	}
	return svc
}

// createTestKey inserts an active key for the given service
func createTestKey(t *testing.T, repo *Repository, svc *models.Service, ratePerMinute, monthlyLimit *int) *models.APIKey {
	t.Helper()
	key := &models.APIKey{
		OwnerID:       svc.OwnerID,
		ServiceID:     svc.ID,
		Name:          "test key",
		KeyHash:       uuid.NewString(),
		KeyPrefix:     "tmai_test",
		Last4:         "abcd",
		RatePerMinute: ratePerMinute,
		MonthlyLimit:  monthlyLimit,
	}
	if err := repo.CreateAPIKey(context.Background(), key); err != nil {
		t.Fatalf("failed to create test key: %v", err)
	}
	return key
}

// cleanupService removes a service and everything hanging off it
func cleanupService(t *testing.T, repo *Repository, serviceID uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	repo.pool.Exec(ctx, "DELETE FROM usage_windows WHERE api_key_id IN (SELECT id FROM api_keys WHERE service_id = $1)", serviceID)
	repo.pool.Exec(ctx, "DELETE FROM api_keys WHERE service_id = $1", serviceID)
	repo.pool.Exec(ctx, "DELETE FROM chunks WHERE service_id = $1", serviceID)
	repo.pool.Exec(ctx, "DELETE FROM documents WHERE service_id = $1", serviceID)
	repo.pool.Exec(ctx, "DELETE FROM services WHERE id = $1", serviceID)
}

func intPtr(n int) *int { return &n }

func TestAPIKeyLifecycle(t *testing.T) {
	repo := getTestDB(t)
	defer repo.Close()
	ctx := context.Background()

	svc := createTestService(t, repo)
	defer cleanupService(t, repo, svc.ID)

	key := createTestKey(t, repo, svc, intPtr(60), intPtr(1000))

	t.Run("lookup by hash", func(t *testing.T) {
		got, err := repo.GetAPIKeyByHash(ctx, key.KeyHash)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.ID != key.ID {
			t.Errorf("got key %s, want %s", got.ID, key.ID)
		}
		if got.Revoked() {
			t.Error("new key should not be revoked")
		}
	})

	t.Run("duplicate hash conflicts", func(t *testing.T) {
		dup := &models.APIKey{
			OwnerID:   svc.OwnerID,
			ServiceID: svc.ID,
			Name:      "dup",
			KeyHash:   key.KeyHash,
			KeyPrefix: "tmai_dup",
			Last4:     "zzzz",
		}
		err := repo.CreateAPIKey(ctx, dup)
		if !errors.Is(err, apperr.ErrConflict) {
			t.Errorf("expected Conflict, got %v", err)
		}
	})

	t.Run("delete before revoke conflicts", func(t *testing.T) {
		err := repo.DeleteAPIKey(ctx, key.ID)
		if !errors.Is(err, apperr.ErrConflict) {
			t.Errorf("expected Conflict, got %v", err)
		}
	})

	t.Run("revoke is idempotent", func(t *testing.T) {
		now := time.Now().UTC()
		if err := repo.RevokeAPIKey(ctx, key.ID, now); err != nil {
			t.Fatalf("first revoke failed: %v", err)
		}
		later := now.Add(time.Hour)
		if err := repo.RevokeAPIKey(ctx, key.ID, later); err != nil {
			t.Fatalf("second revoke failed: %v", err)
		}

		got, err := repo.GetAPIKey(ctx, key.ID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.RevokedAt == nil {
			t.Fatal("expected revocation timestamp")
		}
		// First revocation wins; the second call must not move the stamp.
		if got.RevokedAt.Sub(now).Abs() > time.Second {
			t.Errorf("revocation timestamp moved: %v", got.RevokedAt)
		}
	})

	t.Run("delete after revoke cascades", func(t *testing.T) {
		start := time.Now().UTC().Truncate(time.Minute)
		repo.IncrementUsage(ctx, key.ID, models.WindowMinute, start, 60, start.Add(2*time.Minute))

		if err := repo.DeleteAPIKey(ctx, key.ID); err != nil {
			t.Fatalf("delete failed: %v", err)
		}

		if _, err := repo.GetAPIKey(ctx, key.ID); !errors.Is(err, apperr.ErrNotFound) {
			t.Errorf("expected NotFound after delete, got %v", err)
		}
		count, err := repo.GetUsage(ctx, key.ID, models.WindowMinute, start)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if count != 0 {
			t.Errorf("usage windows should be gone, got count %d", count)
		}
	})
}

func TestIncrementUsage_EnforcesLimit(t *testing.T) {
	repo := getTestDB(t)
	defer repo.Close()
	ctx := context.Background()

	svc := createTestService(t, repo)
	defer cleanupService(t, repo, svc.ID)
	key := createTestKey(t, repo, svc, intPtr(3), nil)

	start := time.Now().UTC().Truncate(time.Minute)
	expiry := start.Add(2 * time.Minute)

	for i := 1; i <= 3; i++ {
		count, ok, err := repo.IncrementUsage(ctx, key.ID, models.WindowMinute, start, 3, expiry)
		if err != nil {
			t.Fatalf("increment %d failed: %v", i, err)
		}
		if !ok {
			t.Fatalf("increment %d rejected, want granted", i)
		}
		if count != i {
			t.Errorf("increment %d: count = %d, want %d", i, count, i)
		}
	}

	_, ok, err := repo.IncrementUsage(ctx, key.ID, models.WindowMinute, start, 3, expiry)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("fourth increment should be rejected")
	}
}

// TestIncrementUsage_Concurrent hammers one window from many goroutines and
// asserts the stored count never exceeds the limit.
func TestIncrementUsage_Concurrent(t *testing.T) {
	repo := getTestDB(t)
	defer repo.Close()
	ctx := context.Background()

	svc := createTestService(t, repo)
	defer cleanupService(t, repo, svc.ID)
	key := createTestKey(t, repo, svc, intPtr(5), nil)

	const workers = 20
	const limit = 5
	start := time.Now().UTC().Truncate(time.Minute)
	expiry := start.Add(2 * time.Minute)

	var wg sync.WaitGroup
	granted := make(chan struct{}, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := repo.IncrementUsage(ctx, key.ID, models.WindowMinute, start, limit, expiry)
			if err != nil {
				t.Errorf("increment failed: %v", err)
				return
			}
			if ok {
				granted <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(granted)

	grantedCount := 0
	for range granted {
		grantedCount++
	}
	if grantedCount != limit {
		t.Errorf("granted = %d, want exactly %d", grantedCount, limit)
	}

	stored, err := repo.GetUsage(ctx, key.ID, models.WindowMinute, start)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stored > limit {
		t.Errorf("stored count %d exceeds limit %d", stored, limit)
	}
}

func TestDeleteExpiredUsageWindows(t *testing.T) {
	repo := getTestDB(t)
	defer repo.Close()
	ctx := context.Background()

	svc := createTestService(t, repo)
	defer cleanupService(t, repo, svc.ID)
	key := createTestKey(t, repo, svc, intPtr(10), nil)

	past := time.Now().UTC().Add(-3 * time.Minute).Truncate(time.Minute)
	repo.IncrementUsage(ctx, key.ID, models.WindowMinute, past, 10, past.Add(2*time.Minute))

	deleted, err := repo.DeleteExpiredUsageWindows(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deleted < 1 {
		t.Errorf("deleted = %d, want at least 1", deleted)
	}
}

func TestSearchChunks_ServiceScoped(t *testing.T) {
	repo := getTestDB(t)
	defer repo.Close()
	ctx := context.Background()

	svcA := createTestService(t, repo)
	defer cleanupService(t, repo, svcA.ID)
	svcB := createTestService(t, repo)
	defer cleanupService(t, repo, svcB.ID)

	embed := func(seed float32) pgvector.Vector {
		v := make([]float32, 1536)
		v[0] = seed
		v[1] = 1
		return pgvector.NewVector(v)
	}

	insertDoc := func(svc *models.Service, text string, seed float32) *models.Document {
		doc := &models.Document{ServiceID: svc.ID, Title: "doc", Content: text}
		if err := repo.CreateDocument(ctx, doc); err != nil {
			t.Fatalf("failed to create document: %v", err)
		}
		chunks := []models.Chunk{{
			DocumentID: doc.ID,
			ServiceID:  svc.ID,
			Index:      0,
			Content:    text,
			Embedding:  embed(seed),
		}}
		if _, err := repo.InsertChunks(ctx, chunks); err != nil {
			t.Fatalf("failed to insert chunks: %v", err)
		}
		return doc
	}

	insertDoc(svcA, "alpha service text", 0.9)
	insertDoc(svcB, "bravo service text", 0.9)

	results, err := repo.SearchChunks(ctx, svcA.ID, embed(0.9), 5, 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Content != "alpha service text" {
		t.Errorf("retrieved chunk from wrong tenant: %q", results[0].Content)
	}
}

func TestSearchChunks_SkipsRevokedDocuments(t *testing.T) {
	repo := getTestDB(t)
	defer repo.Close()
	ctx := context.Background()

	svc := createTestService(t, repo)
	defer cleanupService(t, repo, svc.ID)

	doc := &models.Document{ServiceID: svc.ID, Title: "doc", Content: "text"}
	if err := repo.CreateDocument(ctx, doc); err != nil {
		t.Fatalf("failed to create document: %v", err)
	}
	v := make([]float32, 1536)
	v[0] = 1
	if _, err := repo.InsertChunks(ctx, []models.Chunk{{
		DocumentID: doc.ID, ServiceID: svc.ID, Index: 0, Content: "text",
		Embedding: pgvector.NewVector(v),
	}}); err != nil {
		t.Fatalf("failed to insert chunks: %v", err)
	}

	if _, err := repo.pool.Exec(ctx, `UPDATE documents SET revoked_at = NOW() WHERE id = $1`, doc.ID); err != nil {
		t.Fatalf("failed to revoke document: %v", err)
	}

	results, err := repo.SearchChunks(ctx, svc.ID, pgvector.NewVector(v), 5, 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results, want 0 for revoked document", len(results))
	}
}

func TestDeleteDocument_CascadesChunks(t *testing.T) {
	repo := getTestDB(t)
	defer repo.Close()
	ctx := context.Background()

	svc := createTestService(t, repo)
	defer cleanupService(t, repo, svc.ID)

	doc := &models.Document{ServiceID: svc.ID, Title: "doc", Content: "some text"}
	if err := repo.CreateDocument(ctx, doc); err != nil {
		t.Fatalf("failed to create document: %v", err)
	}

	v := make([]float32, 1536)
	chunks := make([]models.Chunk, 3)
	for i := range chunks {
		chunks[i] = models.Chunk{
			DocumentID: doc.ID,
			ServiceID:  svc.ID,
			Index:      i,
			Content:    fmt.Sprintf("chunk %d", i),
			Embedding:  pgvector.NewVector(v),
		}
	}
	inserted, err := repo.InsertChunks(ctx, chunks)
	if err != nil {
		t.Fatalf("failed to insert chunks: %v", err)
	}
	if inserted != 3 {
		t.Fatalf("inserted = %d, want 3", inserted)
	}

	if err := repo.DeleteDocument(ctx, doc.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	var remaining int
	repo.pool.QueryRow(ctx, `SELECT COUNT(*) FROM chunks WHERE document_id = $1`, doc.ID).Scan(&remaining)
	if remaining != 0 {
		t.Errorf("chunks remaining = %d, want 0", remaining)
	}
}

func TestRepository_NoDatabase(t *testing.T) {
	var repo *Repository

	if _, err := repo.GetAPIKeyByHash(context.Background(), "x"); !errors.Is(err, ErrNoDatabase) {
		t.Errorf("expected ErrNoDatabase, got %v", err)
	}
}
