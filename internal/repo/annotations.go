package repo

import (
	"context"
	"database/sql"

	"dualtext/internal/domain"
)

func (r Repo) InsertAnnotation(ctx context.Context, q Querier, a domain.Annotation) error {
	_, err := q.ExecContext(ctx, `INSERT INTO annotations(id,task_id,created_at) VALUES (?,?,?)`, a.ID, a.TaskID, a.CreatedAt)
	return err
}

func (r Repo) GetAnnotation(ctx context.Context, q Querier, id string) (domain.Annotation, error) {
	var a domain.Annotation
	err := q.QueryRowContext(ctx, `SELECT id,task_id,created_at FROM annotations WHERE id=?`, id).Scan(&a.ID, &a.TaskID, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	return r.loadAnnotationSets(ctx, q, a)
}

func (r Repo) ListAnnotations(ctx context.Context, q Querier, taskID string) ([]domain.Annotation, error) {
	rows, err := q.QueryContext(ctx, `SELECT id,task_id,created_at FROM annotations WHERE task_id=? ORDER BY created_at ASC, id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	var res []domain.Annotation
	for rows.Next() {
		var a domain.Annotation
		if err := rows.Scan(&a.ID, &a.TaskID, &a.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		res = append(res, a)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	for i := range res {
		if res[i], err = r.loadAnnotationSets(ctx, q, res[i]); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (r Repo) loadAnnotationSets(ctx context.Context, q Querier, a domain.Annotation) (domain.Annotation, error) {
	var err error
	a.DocumentIDs, err = queryStrings(ctx, q, `SELECT document_id FROM annotation_documents WHERE annotation_id=? ORDER BY document_id`, a.ID)
	if err != nil {
		return a, err
	}
	a.AnnotatorLabelIDs, err = r.annotationLabels(ctx, q, a.ID, domain.RoleAnnotator)
	if err != nil {
		return a, err
	}
	a.ReviewerLabelIDs, err = r.annotationLabels(ctx, q, a.ID, domain.RoleReviewer)
	return a, err
}

func (r Repo) annotationLabels(ctx context.Context, q Querier, annotationID string, role domain.LabelRole) ([]string, error) {
	return queryStrings(ctx, q, `SELECT label_id FROM annotation_labels WHERE annotation_id=? AND role=? ORDER BY label_id`, annotationID, string(role))
}

// AddAnnotationDocuments links documents and returns how many links were new.
func (r Repo) AddAnnotationDocuments(ctx context.Context, q Querier, annotationID string, documentIDs []string) (int64, error) {
	var added int64
	for _, id := range dedupe(documentIDs) {
		res, err := q.ExecContext(ctx, `INSERT OR IGNORE INTO annotation_documents(annotation_id,document_id) VALUES (?,?)`, annotationID, id)
		if err != nil {
			return added, err
		}
		n, _ := res.RowsAffected()
		added += n
	}
	return added, nil
}

func (r Repo) RemoveAnnotationDocuments(ctx context.Context, q Querier, annotationID string, documentIDs []string) (int64, error) {
	ids := dedupe(documentIDs)
	if len(ids) == 0 {
		return 0, nil
	}
	args := append([]any{annotationID}, toArgs(ids)...)
	res, err := q.ExecContext(ctx, `DELETE FROM annotation_documents WHERE annotation_id=? AND document_id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r Repo) ClearAnnotationDocuments(ctx context.Context, q Querier, annotationID string) (int64, error) {
	res, err := q.ExecContext(ctx, `DELETE FROM annotation_documents WHERE annotation_id=?`, annotationID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r Repo) AddAnnotationLabels(ctx context.Context, q Querier, annotationID string, role domain.LabelRole, labelIDs []string) (int64, error) {
	var added int64
	for _, id := range dedupe(labelIDs) {
		res, err := q.ExecContext(ctx, `INSERT OR IGNORE INTO annotation_labels(annotation_id,label_id,role) VALUES (?,?,?)`, annotationID, id, string(role))
		if err != nil {
			return added, err
		}
		n, _ := res.RowsAffected()
		added += n
	}
	return added, nil
}

func (r Repo) RemoveAnnotationLabels(ctx context.Context, q Querier, annotationID string, role domain.LabelRole, labelIDs []string) (int64, error) {
	ids := dedupe(labelIDs)
	if len(ids) == 0 {
		return 0, nil
	}
	args := append([]any{annotationID, string(role)}, toArgs(ids)...)
	res, err := q.ExecContext(ctx, `DELETE FROM annotation_labels WHERE annotation_id=? AND role=? AND label_id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r Repo) ClearAnnotationLabels(ctx context.Context, q Querier, annotationID string, role domain.LabelRole) (int64, error) {
	res, err := q.ExecContext(ctx, `DELETE FROM annotation_labels WHERE annotation_id=? AND role=?`, annotationID, string(role))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CopyAnnotation duplicates documents and annotator labels of src into dst.
// Reviewer labels stay behind.
func (r Repo) CopyAnnotation(ctx context.Context, q Querier, srcID string, dst domain.Annotation) error {
	if err := r.InsertAnnotation(ctx, q, dst); err != nil {
		return err
	}
	if _, err := q.ExecContext(ctx, `INSERT INTO annotation_documents(annotation_id,document_id)
SELECT ?, document_id FROM annotation_documents WHERE annotation_id=?`, dst.ID, srcID); err != nil {
		return err
	}
	_, err := q.ExecContext(ctx, `INSERT INTO annotation_labels(annotation_id,label_id,role)
SELECT ?, label_id, role FROM annotation_labels WHERE annotation_id=? AND role=?`, dst.ID, srcID, string(domain.RoleAnnotator))
	return err
}
