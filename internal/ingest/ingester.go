package ingest

import (
	"context"
	"fmt"
	"log/slog"
)

// CorpusPurger wipes every document and passage.
type CorpusPurger interface {
	PurgeCorpus() error
}

// Report summarises a synchronous ingestion run.
type Report struct {
	ScanResult
	Processed int
}

// Ingester runs a scan followed by the jobs it queued, for callers that need
// the corpus ready before continuing.
type Ingester struct {
	purger  CorpusPurger
	scanner *Scanner
	worker  *Worker
}

func NewIngester(purger CorpusPurger, scanner *Scanner, worker *Worker) *Ingester {
	return &Ingester{purger: purger, scanner: scanner, worker: worker}
}

// Sync ingests new and changed files and waits for them to be embedded.
func (i *Ingester) Sync(ctx context.Context) (Report, error) {
	res, err := i.scanner.Scan(ctx)
	if err != nil {
		return Report{ScanResult: res}, err
	}
	n, err := i.worker.Drain(ctx)
	if err != nil {
		return Report{ScanResult: res, Processed: n}, fmt.Errorf("processing jobs: %w", err)
	}
	return Report{ScanResult: res, Processed: n}, nil
}

// Rebuild discards the whole corpus and ingests the data directory again.
func (i *Ingester) Rebuild(ctx context.Context) (Report, error) {
	slog.Info("rebuilding corpus", "dir", i.scanner.dir)
	if err := i.purger.PurgeCorpus(); err != nil {
		return Report{}, fmt.Errorf("purging corpus: %w", err)
	}
	return i.Sync(ctx)
}
