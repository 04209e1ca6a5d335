package events

import (
	"database/sql"
	"time"

	"dualtext/internal/domain"
)

const (
	KindTaskSaving        Kind = "task.saving"
	KindDocumentsCreated  Kind = "documents.created"
	KindCorpusDeleting    Kind = "corpus.deleting"
	KindAnnotationChanged Kind = "annotation.changed"
)

// TaskSaving fires inside the update transaction before the task row is
// written. Before is the persisted state.
type TaskSaving struct {
	Tx      *sql.Tx
	ActorID string
	Before  domain.Task
	After   domain.Task
	At      time.Time
}

func (TaskSaving) Kind() Kind { return KindTaskSaving }

// DocumentsCreated fires once per batch after the documents are committed.
type DocumentsCreated struct {
	ActorID   string
	Documents []domain.Document
}

func (DocumentsCreated) Kind() Kind { return KindDocumentsCreated }

// CorpusDeleting fires inside the delete transaction before the corpus row goes.
type CorpusDeleting struct {
	Tx      *sql.Tx
	ActorID string
	Corpus  domain.Corpus
}

func (CorpusDeleting) Kind() Kind { return KindCorpusDeleting }

type AnnotationOp string

const (
	OpAddDocuments    AnnotationOp = "add_documents"
	OpRemoveDocuments AnnotationOp = "remove_documents"
	OpClearDocuments  AnnotationOp = "clear_documents"
	OpAddLabels       AnnotationOp = "add_labels"
	OpRemoveLabels    AnnotationOp = "remove_labels"
	OpClearLabels     AnnotationOp = "clear_labels"
)

// AnnotationChanged fires once per logical mutation of an annotation's
// documents or labels, inside the mutating transaction.
type AnnotationChanged struct {
	Tx           *sql.Tx
	ActorID      string
	TaskID       string
	AnnotationID string
	MutationID   string
	Op           AnnotationOp
	At           time.Time
}

func (AnnotationChanged) Kind() Kind { return KindAnnotationChanged }
