package repo

import (
	"context"
	"database/sql"

	"dualtext/internal/domain"
)

func (r Repo) InsertCorpus(ctx context.Context, q Querier, c domain.Corpus) error {
	meta := c.MetaJSON
	if meta == "" {
		meta = "{}"
	}
	_, err := q.ExecContext(ctx, `INSERT INTO corpora(id,name,meta_json,created_at) VALUES (?,?,?,?)`, c.ID, c.Name, meta, c.CreatedAt)
	return err
}

func (r Repo) GetCorpus(ctx context.Context, q Querier, id string) (domain.Corpus, error) {
	var c domain.Corpus
	err := q.QueryRowContext(ctx, `SELECT id,name,meta_json,created_at FROM corpora WHERE id=?`, id).Scan(&c.ID, &c.Name, &c.MetaJSON, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) ListCorpora(ctx context.Context) ([]domain.Corpus, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,meta_json,created_at FROM corpora ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Corpus
	for rows.Next() {
		var c domain.Corpus
		if err := rows.Scan(&c.ID, &c.Name, &c.MetaJSON, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) DeleteCorpus(ctx context.Context, q Querier, id string) error {
	res, err := q.ExecContext(ctx, `DELETE FROM corpora WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertDocument(ctx context.Context, q Querier, d domain.Document) error {
	_, err := q.ExecContext(ctx, `INSERT INTO documents(id,corpus_id,content,created_at) VALUES (?,?,?,?)`, d.ID, d.CorpusID, d.Content, d.CreatedAt)
	return err
}

func (r Repo) GetDocument(ctx context.Context, q Querier, id string) (domain.Document, error) {
	var d domain.Document
	err := q.QueryRowContext(ctx, `SELECT id,corpus_id,content,created_at FROM documents WHERE id=?`, id).Scan(&d.ID, &d.CorpusID, &d.Content, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	return d, err
}

func (r Repo) ListDocuments(ctx context.Context, q Querier, corpusID string) ([]domain.Document, error) {
	rows, err := q.QueryContext(ctx, `SELECT id,corpus_id,content,created_at FROM documents WHERE corpus_id=? ORDER BY created_at ASC, id ASC`, corpusID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Document
	for rows.Next() {
		var d domain.Document
		if err := rows.Scan(&d.ID, &d.CorpusID, &d.Content, &d.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func (r Repo) DeleteDocument(ctx context.Context, q Querier, id string) error {
	res, err := q.ExecContext(ctx, `DELETE FROM documents WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertLabel(ctx context.Context, q Querier, l domain.Label) error {
	_, err := q.ExecContext(ctx, `INSERT INTO labels(id,project_id,name,color,created_at) VALUES (?,?,?,?,?)`, l.ID, l.ProjectID, l.Name, nullable(l.Color), l.CreatedAt)
	return err
}

func (r Repo) ListLabels(ctx context.Context, projectID string) ([]domain.Label, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,project_id,name,COALESCE(color,''),created_at FROM labels WHERE project_id=? ORDER BY name`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Label
	for rows.Next() {
		var l domain.Label
		if err := rows.Scan(&l.ID, &l.ProjectID, &l.Name, &l.Color, &l.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}

func (r Repo) InsertFeature(ctx context.Context, q Querier, f domain.Feature) error {
	_, err := q.ExecContext(ctx, `INSERT INTO features(id,corpus_id,name,description,key,created_at) VALUES (?,?,?,?,?,?)`,
		f.ID, f.CorpusID, f.Name, nullable(f.Description), f.Key, f.CreatedAt)
	return err
}

func (r Repo) ListFeatures(ctx context.Context, q Querier, corpusID string) ([]domain.Feature, error) {
	rows, err := q.QueryContext(ctx, `SELECT id,corpus_id,name,COALESCE(description,''),key,created_at FROM features WHERE corpus_id=? ORDER BY created_at ASC, id ASC`, corpusID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Feature
	for rows.Next() {
		var f domain.Feature
		if err := rows.Scan(&f.ID, &f.CorpusID, &f.Name, &f.Description, &f.Key, &f.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, f)
	}
	return res, rows.Err()
}

func (r Repo) UpsertFeatureValue(ctx context.Context, q Querier, v domain.FeatureValue) error {
	_, err := q.ExecContext(ctx, `INSERT INTO feature_values(feature_id,document_id,value,updated_at) VALUES (?,?,?,?)
ON CONFLICT(feature_id, document_id) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		v.FeatureID, v.DocumentID, v.Value, v.UpdatedAt)
	return err
}

func (r Repo) GetFeatureValue(ctx context.Context, q Querier, featureID, documentID string) (domain.FeatureValue, error) {
	var v domain.FeatureValue
	err := q.QueryRowContext(ctx, `SELECT feature_id,document_id,value,updated_at FROM feature_values WHERE feature_id=? AND document_id=?`, featureID, documentID).
		Scan(&v.FeatureID, &v.DocumentID, &v.Value, &v.UpdatedAt)
	if err == sql.ErrNoRows {
		return v, ErrNotFound
	}
	return v, err
}

// DeleteCorpusFeatureValues removes every value tied to the corpus through
// either its features or its documents.
func (r Repo) DeleteCorpusFeatureValues(ctx context.Context, q Querier, corpusID string) (int64, error) {
	res, err := q.ExecContext(ctx, `DELETE FROM feature_values
WHERE feature_id IN (SELECT id FROM features WHERE corpus_id=?)
   OR document_id IN (SELECT id FROM documents WHERE corpus_id=?)`, corpusID, corpusID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountCorpusFeatureValues counts values reachable from the corpus.
func (r Repo) CountCorpusFeatureValues(ctx context.Context, q Querier, corpusID string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM feature_values
WHERE feature_id IN (SELECT id FROM features WHERE corpus_id=?)
   OR document_id IN (SELECT id FROM documents WHERE corpus_id=?)`, corpusID, corpusID).Scan(&n)
	return n, err
}
