package storage

import (
	"fmt"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same directory and checks
// no migration is applied twice.
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(v1) == 0 || len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestParseMigrationVersion(t *testing.T) {
	v, err := parseMigrationVersion("001_initial.sql")
	if err != nil || v != 1 {
		t.Errorf("parseMigrationVersion = %d, %v; want 1, nil", v, err)
	}
	if _, err := parseMigrationVersion("initial.sql"); err == nil {
		t.Error("expected error for unnumbered file")
	}
}

func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	for _, idx := range []string{"idx_passages_document", "idx_passages_source_type", "idx_interactions_created", "idx_jobs_claim"} {
		var count int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count); err != nil {
			t.Fatalf("querying sqlite_master for %q: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %q not found", idx)
		}
	}
}

func insertPassage(t *testing.T, s *Store, id, docID string) {
	t.Helper()
	_, err := s.db.Exec(`INSERT INTO passages (id, document_id, source, source_type, chunk_index, total_chunks, content, embedding, created_at)
		VALUES (?, ?, 'a.pdf', 'pdf', 0, 1, 'text', X'0000803F', '2025-01-01T00:00:00Z')`, id, docID)
	if err != nil {
		t.Fatalf("inserting passage: %v", err)
	}
}

func TestUpsertDocument(t *testing.T) {
	s := openTestStore(t)

	id, err := s.UpsertDocument(Document{ID: "d1", Path: "data/a.pdf", Source: "a.pdf", SourceType: "pdf", ContentHash: "h1"})
	if err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}
	if id != "d1" {
		t.Errorf("id = %q, want d1", id)
	}
	if err := s.MarkDocumentIngested("d1", 4); err != nil {
		t.Fatalf("MarkDocumentIngested: %v", err)
	}

	// Same path with a new ID keeps the original ID and resets status.
	id, err = s.UpsertDocument(Document{ID: "d2", Path: "data/a.pdf", Source: "a.pdf", SourceType: "pdf", ContentHash: "h2"})
	if err != nil {
		t.Fatalf("second UpsertDocument: %v", err)
	}
	if id != "d1" {
		t.Errorf("id = %q, want d1 kept on conflict", id)
	}

	doc, err := s.GetDocumentByPath("data/a.pdf")
	if err != nil {
		t.Fatalf("GetDocumentByPath: %v", err)
	}
	if doc.ContentHash != "h2" {
		t.Errorf("ContentHash = %q, want h2", doc.ContentHash)
	}
	if doc.Status != DocumentPending {
		t.Errorf("Status = %q, want pending", doc.Status)
	}
	if doc.PassageCount != 4 {
		t.Errorf("PassageCount = %d, want 4 until re-ingested", doc.PassageCount)
	}
}

func TestMarkDocumentIngested(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.UpsertDocument(Document{ID: "d1", Path: "p", Source: "p", SourceType: "text", ContentHash: "h"}); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkDocumentIngested("d1", 7); err != nil {
		t.Fatalf("MarkDocumentIngested: %v", err)
	}
	doc, err := s.GetDocument("d1")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if doc.Status != DocumentIngested || doc.PassageCount != 7 {
		t.Errorf("doc = %+v, want ingested with 7 passages", doc)
	}
	if err := s.MarkDocumentIngested("missing", 1); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestGetDocumentNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetDocument("nope"); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestListDocuments(t *testing.T) {
	s := openTestStore(t)
	for _, p := range []string{"data/c.txt", "data/a.pdf", "data/b.csv"} {
		if _, err := s.UpsertDocument(Document{ID: p, Path: p, Source: p, SourceType: "x", ContentHash: "h"}); err != nil {
			t.Fatal(err)
		}
	}
	docs, err := s.ListDocuments()
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(docs) != 3 || docs[0].Path != "data/a.pdf" || docs[2].Path != "data/c.txt" {
		t.Errorf("docs not ordered by path: %+v", docs)
	}
}

func TestDeleteDocumentRemovesPassages(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.UpsertDocument(Document{ID: "d1", Path: "p1", Source: "p1", SourceType: "pdf", ContentHash: "h"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.UpsertDocument(Document{ID: "d2", Path: "p2", Source: "p2", SourceType: "pdf", ContentHash: "h"}); err != nil {
		t.Fatal(err)
	}
	insertPassage(t, s, "p-1", "d1")
	insertPassage(t, s, "p-2", "d1")
	insertPassage(t, s, "p-3", "d2")

	if err := s.DeleteDocument("d1"); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}

	st, err := s.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if st.Documents != 1 || st.Passages != 1 {
		t.Errorf("stats = %+v, want 1 document and 1 passage", st)
	}
	if err := s.DeleteDocument("d1"); err != ErrNotFound {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestPurgeCorpus(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.UpsertDocument(Document{ID: "d1", Path: "p1", Source: "p1", SourceType: "pdf", ContentHash: "h"}); err != nil {
		t.Fatal(err)
	}
	insertPassage(t, s, "p-1", "d1")
	if err := s.EnqueueJob(Job{ID: "j1", Type: "embed_document", PayloadJSON: `{}`}); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveInteraction(Interaction{ID: "i1", CreatedAt: time.Now(), Question: "q", Strategy: "general", Answer: "a"}); err != nil {
		t.Fatal(err)
	}

	if err := s.PurgeCorpus(); err != nil {
		t.Fatalf("PurgeCorpus: %v", err)
	}

	st, err := s.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if st.Documents != 0 || st.Passages != 0 || st.PendingJobs != 0 {
		t.Errorf("stats after purge = %+v", st)
	}
	if st.Interactions != 1 {
		t.Errorf("Interactions = %d, want 1 kept", st.Interactions)
	}
}

func TestSaveAndGetInteraction(t *testing.T) {
	s := openTestStore(t)

	now := time.Now().UTC().Truncate(time.Second)
	in := Interaction{
		ID:            "i-1",
		CreatedAt:     now,
		Question:      "Why is BAGIC facing headwinds?",
		Strategy:      "business_insights",
		Answer:        "Motor pricing.",
		CitationsJSON: `[{"source_id":"call.pdf","content":"..."}]`,
		DurationMS:    1234,
	}
	if err := s.SaveInteraction(in); err != nil {
		t.Fatalf("SaveInteraction: %v", err)
	}

	got, err := s.GetInteraction("i-1")
	if err != nil {
		t.Fatalf("GetInteraction: %v", err)
	}
	if !got.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, now)
	}
	if got.Question != in.Question || got.Strategy != in.Strategy || got.Answer != in.Answer {
		t.Errorf("round-trip mismatch: %+v", got)
	}
	if got.CitationsJSON != in.CitationsJSON {
		t.Errorf("CitationsJSON = %q", got.CitationsJSON)
	}
	if got.DurationMS != 1234 {
		t.Errorf("DurationMS = %d", got.DurationMS)
	}
	if got.Status != "completed" {
		t.Errorf("Status = %q, want default completed", got.Status)
	}
}

func TestSaveInteraction_DefaultCitations(t *testing.T) {
	s := openTestStore(t)
	if err := s.SaveInteraction(Interaction{ID: "i", CreatedAt: time.Now(), Question: "q", Strategy: "stock_price", Answer: "a", Status: "error"}); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetInteraction("i")
	if err != nil {
		t.Fatal(err)
	}
	if got.CitationsJSON != "[]" {
		t.Errorf("CitationsJSON = %q, want []", got.CitationsJSON)
	}
	if got.Status != "error" {
		t.Errorf("Status = %q, want error", got.Status)
	}
}

func TestGetInteractionNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetInteraction("nope"); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestGetRecentInteractions(t *testing.T) {
	s := openTestStore(t)

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		in := Interaction{
			ID:        fmt.Sprintf("i-%d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			Question:  fmt.Sprintf("q%d", i),
			Strategy:  "general",
			Answer:    "a",
		}
		if err := s.SaveInteraction(in); err != nil {
			t.Fatalf("SaveInteraction %d: %v", i, err)
		}
	}

	got, err := s.GetRecentInteractions(3)
	if err != nil {
		t.Fatalf("GetRecentInteractions: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].ID != "i-4" || got[2].ID != "i-2" {
		t.Errorf("order = %s,%s,%s; want newest first", got[0].ID, got[1].ID, got[2].ID)
	}
}

func TestStatsCountsFailedJobs(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: "j", Type: "embed_document", PayloadJSON: `{}`, MaxAttempts: 1}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ClaimNextJob([]string{"embed_document"}); err != nil {
		t.Fatal(err)
	}
	if err := s.FailJob("j", "boom"); err != nil {
		t.Fatal(err)
	}
	st, err := s.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if st.FailedJobs != 1 || st.PendingJobs != 0 {
		t.Errorf("stats = %+v, want 1 failed, 0 pending", st)
	}
}

func TestEnqueueAndClaimJob(t *testing.T) {
	s := openTestStore(t)

	job := Job{
		ID:          "j-claim-1",
		Type:        "embed_document",
		PayloadJSON: `{"document_id":"d1"}`,
	}
	if err := s.EnqueueJob(job); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	got, err := s.ClaimNextJob([]string{"embed_document"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if got == nil {
		t.Fatal("ClaimNextJob returned nil")
	}
	if got.ID != "j-claim-1" {
		t.Errorf("ID = %q, want %q", got.ID, "j-claim-1")
	}
	if got.Type != "embed_document" {
		t.Errorf("Type = %q, want %q", got.Type, "embed_document")
	}
	if got.PayloadJSON != `{"document_id":"d1"}` {
		t.Errorf("PayloadJSON = %q, want %q", got.PayloadJSON, `{"document_id":"d1"}`)
	}
	if got.Status != "running" {
		t.Errorf("Status = %q, want %q", got.Status, "running")
	}
	if got.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", got.MaxAttempts)
	}
}

func TestClaimNextJob_Empty(t *testing.T) {
	s := openTestStore(t)

	got, err := s.ClaimNextJob([]string{"embed_document"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestClaimNextJob_RespectRunAfter(t *testing.T) {
	s := openTestStore(t)

	job := Job{
		ID:          "j-future",
		Type:        "embed_document",
		PayloadJSON: `{}`,
		RunAfter:    time.Now().UTC().Add(1 * time.Hour),
	}
	if err := s.EnqueueJob(job); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	got, err := s.ClaimNextJob([]string{"embed_document"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for future run_after, got %+v", got)
	}
}

func TestClaimNextJob_TypeFilter(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: "j-a", Type: "a", PayloadJSON: `{}`}); err != nil {
		t.Fatalf("EnqueueJob a: %v", err)
	}
	if err := s.EnqueueJob(Job{ID: "j-b", Type: "b", PayloadJSON: `{}`}); err != nil {
		t.Fatalf("EnqueueJob b: %v", err)
	}

	got, err := s.ClaimNextJob([]string{"a"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if got == nil {
		t.Fatal("ClaimNextJob returned nil")
	}
	if got.Type != "a" {
		t.Errorf("Type = %q, want %q", got.Type, "a")
	}
}

func TestClaimNextJob_SkipsRunning(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: "j-first", Type: "x", PayloadJSON: `{}`}); err != nil {
		t.Fatalf("EnqueueJob first: %v", err)
	}
	if _, err := s.ClaimNextJob([]string{"x"}); err != nil {
		t.Fatalf("ClaimNextJob first: %v", err)
	}

	if err := s.EnqueueJob(Job{ID: "j-second", Type: "x", PayloadJSON: `{}`}); err != nil {
		t.Fatalf("EnqueueJob second: %v", err)
	}

	got, err := s.ClaimNextJob([]string{"x"})
	if err != nil {
		t.Fatalf("ClaimNextJob second: %v", err)
	}
	if got == nil {
		t.Fatal("ClaimNextJob returned nil")
	}
	if got.ID != "j-second" {
		t.Errorf("ID = %q, want %q", got.ID, "j-second")
	}
}

func TestCompleteJob(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: "j-complete", Type: "x", PayloadJSON: `{}`}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if _, err := s.ClaimNextJob([]string{"x"}); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if err := s.CompleteJob("j-complete"); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}

	var status string
	if err := s.db.QueryRow(`SELECT status FROM jobs WHERE id = 'j-complete'`).Scan(&status); err != nil {
		t.Fatalf("SELECT: %v", err)
	}
	if status != "completed" {
		t.Errorf("status = %q, want %q", status, "completed")
	}
}

func TestFailJob_IncrementsAttempts(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: "j-fail-inc", Type: "x", PayloadJSON: `{}`}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if _, err := s.ClaimNextJob([]string{"x"}); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if err := s.FailJob("j-fail-inc", "something broke"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	var status, lastError string
	var attempts int
	if err := s.db.QueryRow(`SELECT status, attempts, last_error FROM jobs WHERE id = 'j-fail-inc'`).Scan(&status, &attempts, &lastError); err != nil {
		t.Fatalf("SELECT: %v", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
	if status != "pending" {
		t.Errorf("status = %q, want %q", status, "pending")
	}
	if lastError != "something broke" {
		t.Errorf("last_error = %q, want %q", lastError, "something broke")
	}
}

func TestFailJob_MaxAttemptsReached(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: "j-fail-max", Type: "x", PayloadJSON: `{}`, MaxAttempts: 1}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if _, err := s.ClaimNextJob([]string{"x"}); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if err := s.FailJob("j-fail-max", "fatal"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	var status string
	if err := s.db.QueryRow(`SELECT status FROM jobs WHERE id = 'j-fail-max'`).Scan(&status); err != nil {
		t.Fatalf("SELECT: %v", err)
	}
	if status != "failed" {
		t.Errorf("status = %q, want %q", status, "failed")
	}
}

func TestFailJob_SetsBackoff(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: "j-backoff", Type: "x", PayloadJSON: `{}`}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if _, err := s.ClaimNextJob([]string{"x"}); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}

	before := time.Now().UTC()
	if err := s.FailJob("j-backoff", "retry"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	var runAfterStr string
	if err := s.db.QueryRow(`SELECT run_after FROM jobs WHERE id = 'j-backoff'`).Scan(&runAfterStr); err != nil {
		t.Fatalf("SELECT: %v", err)
	}
	runAfter, err := time.Parse(time.RFC3339, runAfterStr)
	if err != nil {
		t.Fatalf("parsing run_after: %v", err)
	}
	if !runAfter.After(before) {
		t.Errorf("run_after %v should be after %v", runAfter, before)
	}
}
