package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/credd-network/credd/internal/domain"
)

// ─── Anomaly Operations ─────────────────────────────────────────────────────

// InsertAnomaly persists an audit finding.
func (db *DB) InsertAnomaly(ctx context.Context, a *domain.AuditAnomaly) error {
	txIDs, err := json.Marshal(a.TransactionIDs)
	if err != nil {
		return fmt.Errorf("marshal anomaly tx ids: %w", err)
	}
	resolved := 0
	if a.Resolved {
		resolved = 1
	}
	_, err = db.db.ExecContext(ctx, `
		INSERT INTO audit_anomalies (id, type, severity, user_id, tx_ids, detail, detected_at_ns, resolved)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, string(a.Type), int(a.Severity), a.UserID, string(txIDs), a.Detail,
		a.DetectedAt.UnixNano(), resolved)
	if err != nil {
		return fmt.Errorf("insert anomaly: %w", err)
	}
	return nil
}

// ListAnomalies returns the most recent findings, newest first.
func (db *DB) ListAnomalies(ctx context.Context, limit int) ([]domain.AuditAnomaly, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.db.QueryContext(ctx, `
		SELECT id, type, severity, user_id, tx_ids, detail, detected_at_ns, resolved
		FROM audit_anomalies ORDER BY detected_at_ns DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query anomalies: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditAnomaly
	for rows.Next() {
		var a domain.AuditAnomaly
		var typ, txIDs string
		var severity, resolved int
		var detectedNs int64
		if err := rows.Scan(&a.ID, &typ, &severity, &a.UserID, &txIDs, &a.Detail, &detectedNs, &resolved); err != nil {
			return nil, err
		}
		a.Type = domain.AnomalyType(typ)
		a.Severity = domain.Severity(severity)
		a.DetectedAt = time.Unix(0, detectedNs)
		a.Resolved = resolved == 1
		if err := json.Unmarshal([]byte(txIDs), &a.TransactionIDs); err != nil {
			return nil, fmt.Errorf("unmarshal anomaly tx ids: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
