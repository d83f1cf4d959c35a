package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/kalambet/finrag/internal/storage"
)

// DocumentStore is the part of storage.Store the scanner needs.
type DocumentStore interface {
	GetDocumentByPath(path string) (storage.Document, error)
	UpsertDocument(doc storage.Document) (string, error)
	ListDocuments() ([]storage.Document, error)
	DeleteDocument(id string) error
	EnqueueJob(job storage.Job) error
}

// ScanResult counts what a scan did with each file.
type ScanResult struct {
	Queued    int
	Unchanged int
	Removed   int
	Skipped   int
}

// Scanner walks the data directory and queues an embed job for every new or
// changed file. Documents whose file has disappeared are removed along with
// their passages.
type Scanner struct {
	store  DocumentStore
	dir    string
	logger *slog.Logger
}

func NewScanner(store DocumentStore, dir string) *Scanner {
	return &Scanner{store: store, dir: dir, logger: slog.Default()}
}

func (s *Scanner) Scan(ctx context.Context) (ScanResult, error) {
	var res ScanResult
	if _, err := os.Stat(s.dir); err != nil {
		return res, fmt.Errorf("data directory %s: %w", s.dir, err)
	}

	seen := make(map[string]bool)
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}
		typ := SourceType(path)
		if typ == "" {
			res.Skipped++
			return nil
		}
		seen[path] = true

		queued, err := s.scanFile(path, typ)
		if err != nil {
			return err
		}
		if queued {
			res.Queued++
		} else {
			res.Unchanged++
		}
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("scanning %s: %w", s.dir, err)
	}

	docs, err := s.store.ListDocuments()
	if err != nil {
		return res, fmt.Errorf("listing documents: %w", err)
	}
	for _, doc := range docs {
		if seen[doc.Path] {
			continue
		}
		if err := s.store.DeleteDocument(doc.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return res, fmt.Errorf("removing %s: %w", doc.Path, err)
		}
		s.logger.Info("removed document", "path", doc.Path)
		res.Removed++
	}

	s.logger.Info("scan complete", "dir", s.dir, "queued", res.Queued, "unchanged", res.Unchanged,
		"removed", res.Removed, "skipped", res.Skipped)
	return res, nil
}

// scanFile reports whether path was queued for embedding.
func (s *Scanner) scanFile(path, typ string) (bool, error) {
	hash, err := fileHash(path)
	if err != nil {
		return false, err
	}

	existing, err := s.store.GetDocumentByPath(path)
	switch {
	case err == nil && existing.ContentHash == hash:
		return false, nil
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		return false, fmt.Errorf("looking up %s: %w", path, err)
	}

	id, err := s.store.UpsertDocument(storage.Document{
		ID:          uuid.New().String(),
		Path:        path,
		Source:      filepath.Base(path),
		SourceType:  typ,
		ContentHash: hash,
	})
	if err != nil {
		return false, err
	}

	payload, err := json.Marshal(embedPayload{DocumentID: id})
	if err != nil {
		return false, err
	}
	if err := s.store.EnqueueJob(storage.Job{
		ID:          uuid.New().String(),
		Type:        JobEmbedDocument,
		PayloadJSON: string(payload),
	}); err != nil {
		return false, fmt.Errorf("queueing %s: %w", path, err)
	}
	s.logger.Debug("queued document", "path", path, "document_id", id)
	return true, nil
}

func fileHash(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
