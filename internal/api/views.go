package api

import (
	"time"

	"github.com/raphaelgruber/assetcheck/internal/syncer"
)

// QueueEntryView summarizes a pending batch without its row payload.
type QueueEntryView struct {
	ID          string    `json:"id"`
	AssetID     string    `json:"asset_id"`
	ProcedureID string    `json:"procedure_id"`
	Timestamp   string    `json:"timestamp"`
	Rows        int       `json:"rows"`
	QueuedAt    time.Time `json:"queued_at"`
	Attempts    int       `json:"attempts"`
	LastError   string    `json:"last_error,omitempty"`
	Appended    bool      `json:"appended"`
}

func queueEntryView(e syncer.Entry) QueueEntryView {
	return QueueEntryView{
		ID:          e.ID,
		AssetID:     e.Batch.Key.AssetID,
		ProcedureID: e.Batch.Key.ProcedureID,
		Timestamp:   e.Batch.Key.Timestamp,
		Rows:        len(e.Batch.Rows),
		QueuedAt:    e.QueuedAt,
		Attempts:    e.Attempts,
		LastError:   e.LastError,
		Appended:    e.Appended,
	}
}
