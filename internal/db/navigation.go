package db

import "time"

// HandoffSlot is the navigation payload a destination dashboard reads back
// after a full page load. One slot per session; newer navigations overwrite.
type HandoffSlot struct {
	SessionID string  `json:"session_id"`
	Dashboard string  `json:"dashboard"`
	Context   *string `json:"context"`
	History   *string `json:"history"`
	CreatedAt int64   `json:"created_at"`
}

func SaveHandoff(s *HandoffSlot) error {
	_, err := db.Exec(`
		INSERT INTO nav_handoff (session_id, dashboard, context, history, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			dashboard = excluded.dashboard,
			context = excluded.context,
			history = excluded.history,
			created_at = excluded.created_at`,
		s.SessionID, s.Dashboard, s.Context, s.History, time.Now().Unix())
	return err
}

func GetHandoff(sessionID string) (*HandoffSlot, error) {
	s := &HandoffSlot{}
	err := db.QueryRow(`
		SELECT session_id, dashboard, context, history, created_at
		FROM nav_handoff WHERE session_id = ?`, sessionID).Scan(
		&s.SessionID, &s.Dashboard, &s.Context, &s.History, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// PruneHandoffs removes slots older than the given age. Sessions are
// browser-tab scoped; stale slots are never read again.
func PruneHandoffs(maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge).Unix()
	res, err := db.Exec(`DELETE FROM nav_handoff WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// SyncRecord journals one server-sync attempt.
type SyncRecord struct {
	ID        int     `json:"id"`
	Success   bool    `json:"success"`
	Detail    *string `json:"detail"`
	CreatedAt int64   `json:"created_at"`
}

func InsertSyncRecord(success bool, detail string) error {
	var d *string
	if detail != "" {
		d = &detail
	}
	_, err := db.Exec(`INSERT INTO sync_journal (success, detail) VALUES (?, ?)`,
		boolToInt(success), d)
	return err
}

func LastSyncRecord() (*SyncRecord, error) {
	r := &SyncRecord{}
	var success int
	err := db.QueryRow(`
		SELECT id, success, detail, created_at
		FROM sync_journal ORDER BY id DESC LIMIT 1`).Scan(
		&r.ID, &success, &r.Detail, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	r.Success = success != 0
	return r, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
