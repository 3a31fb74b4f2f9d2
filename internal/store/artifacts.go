package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var ErrNotFound = errors.New("artifact not found")

type Kind string

const (
	KindTestCases Kind = "test_cases"
	KindFeature   Kind = "feature"
	KindGlue      Kind = "glue"
)

// Download names and content types per kind.
const (
	TestCasesFilename = "manual_test_cases.xlsx"
	FeatureFilename   = "feature_file.feature"
	GlueFilename      = "glue_file.java"

	ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	ContentTypeText = "text/plain; charset=utf-8"
)

// Artifact is one generated file waiting to be downloaded.
type Artifact struct {
	ID          uuid.UUID `json:"id"`
	RunID       uuid.UUID `json:"run_id"`
	Kind        Kind      `json:"kind"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	Content     []byte    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewArtifact fills in the id and the filename and content type for kind.
func NewArtifact(runID uuid.UUID, kind Kind, content []byte) Artifact {
	a := Artifact{
		ID:          uuid.New(),
		RunID:       runID,
		Kind:        kind,
		ContentType: ContentTypeText,
		Content:     content,
		CreatedAt:   time.Now().UTC(),
	}
	switch kind {
	case KindTestCases:
		a.Filename = TestCasesFilename
		a.ContentType = ContentTypeXLSX
	case KindFeature:
		a.Filename = FeatureFilename
	case KindGlue:
		a.Filename = GlueFilename
	}
	return a
}

// SaveArtifact persists an artifact.
func (s *Store) SaveArtifact(ctx context.Context, a Artifact) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO artifacts (id, run_id, kind, filename, content_type, content, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.RunID, string(a.Kind), a.Filename, a.ContentType, a.Content, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	return nil
}

// TakeArtifact returns the artifact and deletes it in one statement, so each
// artifact is downloaded at most once.
func (s *Store) TakeArtifact(ctx context.Context, id uuid.UUID) (*Artifact, error) {
	var a Artifact
	var kind string
	err := s.pool.QueryRow(ctx, `
		DELETE FROM artifacts WHERE id = $1
		RETURNING id, run_id, kind, filename, content_type, content, created_at`,
		id,
	).Scan(&a.ID, &a.RunID, &kind, &a.Filename, &a.ContentType, &a.Content, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("take artifact: %w", err)
	}
	a.Kind = Kind(kind)
	return &a, nil
}

// ListRun returns metadata for the artifacts of a run still awaiting download.
func (s *Store) ListRun(ctx context.Context, runID uuid.UUID) ([]Artifact, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, run_id, kind, filename, content_type, created_at
		FROM artifacts WHERE run_id = $1 ORDER BY created_at`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query artifacts: %w", err)
	}
	defer rows.Close()

	var out []Artifact
	for rows.Next() {
		var a Artifact
		var kind string
		if err := rows.Scan(&a.ID, &a.RunID, &kind, &a.Filename, &a.ContentType, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		a.Kind = Kind(kind)
		out = append(out, a)
	}
	return out, rows.Err()
}
