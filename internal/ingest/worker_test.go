package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/finrag/internal/retrieval"
	"github.com/kalambet/finrag/internal/storage"
)

type mockEmbedder struct {
	embedFn func(ctx context.Context, texts []string) ([][]float32, error)
}

func (m *mockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return m.embedFn(ctx, texts)
}

func fixedEmbedder() *mockEmbedder {
	return &mockEmbedder{embedFn: func(_ context.Context, texts []string) ([][]float32, error) {
		out := make([][]float32, len(texts))
		for i := range texts {
			out[i] = []float32{0.1, 0.2, 0.3}
		}
		return out, nil
	}}
}

type mockPassageWriter struct {
	mu       sync.Mutex
	byDoc    map[string][]retrieval.Passage
	deleted  []string
	insertFn func(passages []retrieval.Passage) error
}

func newMockPassageWriter() *mockPassageWriter {
	return &mockPassageWriter{byDoc: map[string][]retrieval.Passage{}}
}

func (m *mockPassageWriter) Insert(_ context.Context, passages []retrieval.Passage) error {
	if m.insertFn != nil {
		if err := m.insertFn(passages); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range passages {
		m.byDoc[p.DocumentID] = append(m.byDoc[p.DocumentID], p)
	}
	return nil
}

func (m *mockPassageWriter) DeleteByDocument(_ context.Context, documentID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.byDoc[documentID])
	delete(m.byDoc, documentID)
	m.deleted = append(m.deleted, documentID)
	return n, nil
}

func (m *mockPassageWriter) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, ps := range m.byDoc {
		n += len(ps)
	}
	return n
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// enqueueTestDoc writes a text file, registers it and queues its embed job.
func enqueueTestDoc(t *testing.T, store *storage.Store, docID, content string) {
	t.Helper()
	path := writeFile(t, t.TempDir(), docID+".txt", content)
	if _, err := store.UpsertDocument(storage.Document{
		ID: docID, Path: path, Source: docID + ".txt", SourceType: TypeText, ContentHash: "h",
	}); err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}
	payload, _ := json.Marshal(embedPayload{DocumentID: docID})
	if err := store.EnqueueJob(storage.Job{
		ID:          "job-" + docID,
		Type:        JobEmbedDocument,
		PayloadJSON: string(payload),
	}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
}

// resetRunAfter makes a job claimable immediately after FailJob backoff.
func resetRunAfter(t *testing.T, store *storage.Store, jobID string) {
	t.Helper()
	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := store.DB().Exec(`UPDATE jobs SET run_after = ? WHERE id = ?`, now, jobID); err != nil {
		t.Fatalf("resetRunAfter: %v", err)
	}
}

func jobStatus(t *testing.T, store *storage.Store, jobID string) (string, int) {
	t.Helper()
	var status string
	var attempts int
	if err := store.DB().QueryRow(`SELECT status, attempts FROM jobs WHERE id = ?`, jobID).Scan(&status, &attempts); err != nil {
		t.Fatalf("query job %s: %v", jobID, err)
	}
	return status, attempts
}

func TestWorker_ProcessesJob(t *testing.T) {
	store := openTestStore(t)
	enqueueTestDoc(t, store, "doc-1", "Hello world")

	writer := newMockPassageWriter()
	w := NewWorker(store, fixedEmbedder(), writer, Chunker{Size: 1500, Overlap: 300}, 0)

	didWork, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if !didWork {
		t.Fatal("RunOnce returned false, expected true")
	}

	ps := writer.byDoc["doc-1"]
	if len(ps) != 1 {
		t.Fatalf("inserted %d passages, want 1", len(ps))
	}
	p := ps[0]
	if p.Source != "doc-1.txt" || p.SourceType != TypeText {
		t.Errorf("passage source = %q/%q", p.Source, p.SourceType)
	}
	if p.ChunkIndex != 0 || p.TotalChunks != 1 || p.Content != "Hello world" {
		t.Errorf("passage = %+v", p)
	}
	if p.ID == "" || len(p.Embedding) != 3 {
		t.Errorf("passage missing id or embedding: %+v", p)
	}

	doc, err := store.GetDocument("doc-1")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if doc.Status != storage.DocumentIngested || doc.PassageCount != 1 {
		t.Errorf("doc = %+v, want ingested with 1 passage", doc)
	}
	if status, _ := jobStatus(t, store, "job-doc-1"); status != "completed" {
		t.Errorf("job status = %q, want completed", status)
	}
}

func TestWorker_ChunkMetadata(t *testing.T) {
	store := openTestStore(t)
	enqueueTestDoc(t, store, "doc-long", "first paragraph here\n\nsecond paragraph here\n\nthird paragraph here")

	writer := newMockPassageWriter()
	w := NewWorker(store, fixedEmbedder(), writer, Chunker{Size: 25, Overlap: 0}, 0)
	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}

	ps := writer.byDoc["doc-long"]
	if len(ps) != 3 {
		t.Fatalf("got %d passages, want 3", len(ps))
	}
	for i, p := range ps {
		if p.ChunkIndex != i || p.TotalChunks != 3 {
			t.Errorf("passage %d: index %d of %d", i, p.ChunkIndex, p.TotalChunks)
		}
	}
}

func TestWorker_ReplacesOldPassages(t *testing.T) {
	store := openTestStore(t)
	enqueueTestDoc(t, store, "doc-r", "new content")

	writer := newMockPassageWriter()
	writer.byDoc["doc-r"] = []retrieval.Passage{{ID: "stale", DocumentID: "doc-r"}}

	w := NewWorker(store, fixedEmbedder(), writer, Chunker{Size: 1500, Overlap: 300}, 0)
	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	ps := writer.byDoc["doc-r"]
	if len(ps) != 1 || ps[0].ID == "stale" {
		t.Errorf("passages = %+v, want only the new one", ps)
	}
}

func TestWorker_MissingDocumentCompletesJob(t *testing.T) {
	store := openTestStore(t)
	payload, _ := json.Marshal(embedPayload{DocumentID: "gone"})
	if err := store.EnqueueJob(storage.Job{ID: "job-gone", Type: JobEmbedDocument, PayloadJSON: string(payload)}); err != nil {
		t.Fatal(err)
	}

	w := NewWorker(store, fixedEmbedder(), newMockPassageWriter(), Chunker{Size: 100, Overlap: 10}, 0)
	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if status, _ := jobStatus(t, store, "job-gone"); status != "completed" {
		t.Errorf("status = %q, want completed", status)
	}
}

func TestWorker_RetryOnFailure(t *testing.T) {
	store := openTestStore(t)
	enqueueTestDoc(t, store, "doc-r", "retry content")

	var calls atomic.Int32
	writer := newMockPassageWriter()
	w := NewWorker(store, &mockEmbedder{
		embedFn: func(_ context.Context, texts []string) ([][]float32, error) {
			n := calls.Add(1)
			if n <= 2 {
				return nil, fmt.Errorf("transient error %d", n)
			}
			return [][]float32{{0.1, 0.2, 0.3}}, nil
		},
	}, writer, Chunker{Size: 1500, Overlap: 300}, 0)

	ctx := context.Background()

	for attempt := 1; attempt <= 2; attempt++ {
		didWork, err := w.RunOnce(ctx)
		if err != nil || !didWork {
			t.Fatalf("RunOnce %d = %v, %v", attempt, didWork, err)
		}
		status, attempts := jobStatus(t, store, "job-doc-r")
		if status != "pending" || attempts != attempt {
			t.Errorf("after fail %d: status=%q attempts=%d", attempt, status, attempts)
		}
		resetRunAfter(t, store, "job-doc-r")
	}

	if _, err := w.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce 3 error: %v", err)
	}
	if status, _ := jobStatus(t, store, "job-doc-r"); status != "completed" {
		t.Errorf("after 3rd attempt: status=%q, want completed", status)
	}
	if writer.total() != 1 {
		t.Errorf("passages = %d, want 1", writer.total())
	}
}

func TestWorker_MaxRetriesExceeded(t *testing.T) {
	store := openTestStore(t)
	enqueueTestDoc(t, store, "doc-m", "max retry content")

	w := NewWorker(store, &mockEmbedder{
		embedFn: func(context.Context, []string) ([][]float32, error) {
			return nil, fmt.Errorf("permanent error")
		},
	}, newMockPassageWriter(), Chunker{Size: 1500, Overlap: 300}, 0)

	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		didWork, err := w.RunOnce(ctx)
		if err != nil || !didWork {
			t.Fatalf("RunOnce %d = %v, %v", i, didWork, err)
		}
		if i < 3 {
			resetRunAfter(t, store, "job-doc-m")
		}
	}

	if status, _ := jobStatus(t, store, "job-doc-m"); status != "failed" {
		t.Errorf("final status = %q, want failed", status)
	}
}

func TestWorker_DrainStopsWhenIdle(t *testing.T) {
	store := openTestStore(t)
	for i := 0; i < 4; i++ {
		enqueueTestDoc(t, store, fmt.Sprintf("doc-%d", i), fmt.Sprintf("content %d", i))
	}

	writer := newMockPassageWriter()
	w := NewWorker(store, fixedEmbedder(), writer, Chunker{Size: 1500, Overlap: 300}, 0)

	n, err := w.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if n != 4 {
		t.Errorf("Drain processed %d, want 4", n)
	}
	if writer.total() != 4 {
		t.Errorf("passages = %d, want 4", writer.total())
	}
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	store := openTestStore(t)
	w := NewWorker(store, fixedEmbedder(), newMockPassageWriter(), Chunker{Size: 100, Overlap: 10}, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
