package portcache

import (
	"context"
	"database/sql"
	"time"

	_ "modernc.org/sqlite"

	"github.com/polidog/kilar/pkg/errdefs"
	"github.com/polidog/kilar/pkg/model"
)

const historySchema = `
CREATE TABLE IF NOT EXISTS port_changes (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	observed_at TEXT    NOT NULL,
	kind        TEXT    NOT NULL,
	port        INTEGER NOT NULL,
	protocol    TEXT    NOT NULL,
	pid         INTEGER NOT NULL,
	name        TEXT    NOT NULL,
	command     TEXT    NOT NULL
)`

// History persists change events to a sqlite database so port activity
// can be inspected after the monitoring session that observed it ended.
type History struct {
	db *sql.DB
}

// OpenHistory opens or creates the database at path.
func OpenHistory(path string) (*History, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errdefs.WrapIO(err, "open history database")
	}
	if _, err := db.Exec(historySchema); err != nil {
		db.Close()
		return nil, errdefs.WrapIO(err, "initialize history database")
	}
	return &History{db: db}, nil
}

// Record appends a batch of events in one transaction.
func (h *History) Record(ctx context.Context, events []model.ChangeEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return errdefs.WrapIO(err, "begin history transaction")
	}
	for _, ev := range events {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO port_changes (observed_at, kind, port, protocol, pid, name, command)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			ev.ObservedAt.UTC().Format(time.RFC3339Nano),
			string(ev.Kind),
			int64(ev.Record.Port),
			string(ev.Record.Protocol),
			int64(ev.Record.PID),
			ev.Record.Name,
			ev.Record.Command,
		)
		if err != nil {
			tx.Rollback()
			return errdefs.WrapIO(err, "record port change")
		}
	}
	if err := tx.Commit(); err != nil {
		return errdefs.WrapIO(err, "commit port changes")
	}
	return nil
}

// Recent returns up to limit of the newest stored events, oldest first.
func (h *History) Recent(ctx context.Context, limit int) ([]model.ChangeEvent, error) {
	rows, err := h.db.QueryContext(ctx,
		`SELECT observed_at, kind, port, protocol, pid, name, command
		 FROM port_changes ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errdefs.WrapIO(err, "query port changes")
	}
	defer rows.Close()

	var events []model.ChangeEvent
	for rows.Next() {
		var (
			observedAt string
			kind       string
			port       int64
			protocol   string
			pid        int64
			name       string
			command    string
		)
		if err := rows.Scan(&observedAt, &kind, &port, &protocol, &pid, &name, &command); err != nil {
			return nil, errdefs.WrapIO(err, "scan port change")
		}
		at, err := time.Parse(time.RFC3339Nano, observedAt)
		if err != nil {
			return nil, errdefs.ParseFailuref("bad observed_at %q: %v", observedAt, err)
		}
		events = append(events, model.ChangeEvent{
			ObservedAt: at,
			Kind:       model.ChangeKind(kind),
			Record: model.ProcessRecord{
				PID:      uint32(pid),
				Name:     name,
				Command:  command,
				Port:     uint16(port),
				Protocol: model.Protocol(protocol),
			},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, errdefs.WrapIO(err, "read port changes")
	}

	// Newest-first from the query, chronological for callers.
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

func (h *History) Close() error {
	return h.db.Close()
}
