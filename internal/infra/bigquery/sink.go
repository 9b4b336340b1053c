package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
)

const (
	runsTable   = "runs"
	sanityTable = "sanity_results"
)

// Sink writes run bookkeeping rows to BigQuery.
type Sink struct {
	client  *bigquery.Client
	project string
	dataset string
}

// NewSink creates a sink for the given project and dataset.
func NewSink(ctx context.Context, project, dataset string) (*Sink, error) {
	client, err := bigquery.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("NewSink: bigquery client: %w", err)
	}
	return &Sink{client: client, project: project, dataset: dataset}, nil
}

// Close releases the underlying client.
func (s *Sink) Close() error {
	return s.client.Close()
}

// InsertRun inserts one run row.
func (s *Sink) InsertRun(ctx context.Context, row RunRow) error {
	inserter := s.client.DatasetInProject(s.project, s.dataset).Table(runsTable).Inserter()
	if err := inserter.Put(ctx, []*RunRow{&row}); err != nil {
		return fmt.Errorf("InsertRun: inserting row: %w", err)
	}
	return nil
}

// InsertSanity inserts one sanity snapshot row.
func (s *Sink) InsertSanity(ctx context.Context, row SanityRow) error {
	inserter := s.client.DatasetInProject(s.project, s.dataset).Table(sanityTable).Inserter()
	if err := inserter.Put(ctx, []*SanityRow{&row}); err != nil {
		return fmt.Errorf("InsertSanity: inserting row: %w", err)
	}
	return nil
}

// ListRecentRuns returns the most recent runs, newest first.
func (s *Sink) ListRecentRuns(ctx context.Context, limit int) ([]RunRow, error) {
	if limit <= 0 {
		limit = 50
	}
	q := s.client.Query(fmt.Sprintf(
		"SELECT * FROM `%s.%s.%s` ORDER BY started_ts DESC LIMIT @limit",
		s.project, s.dataset, runsTable,
	))
	q.Parameters = []bigquery.QueryParameter{{Name: "limit", Value: limit}}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListRecentRuns: query: %w", err)
	}

	var rows []RunRow
	for {
		var row RunRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListRecentRuns: iterate: %w", err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}
