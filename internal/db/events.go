package db

type TrackedEvent struct {
	ID        int     `json:"id"`
	Event     string  `json:"event"`
	Payload   *string `json:"payload"`
	SessionID *string `json:"session_id"`
	CreatedAt int64   `json:"created_at"`
}

func InsertEvent(e *TrackedEvent) error {
	_, err := db.Exec(`
		INSERT INTO events (event, payload, session_id)
		VALUES (?, ?, ?)`,
		e.Event, e.Payload, e.SessionID)
	return err
}

func GetRecentEvents(limit int) ([]TrackedEvent, error) {
	rows, err := db.Query(`
		SELECT id, event, payload, session_id, created_at
		FROM events ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []TrackedEvent
	for rows.Next() {
		var e TrackedEvent
		if err := rows.Scan(&e.ID, &e.Event, &e.Payload, &e.SessionID, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func CountEvents() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&n)
	return n, err
}

type ChainEvent struct {
	ID          int     `json:"id"`
	Contract    string  `json:"contract"`
	Event       string  `json:"event"`
	TxHash      *string `json:"tx_hash"`
	BlockNumber *int64  `json:"block_number"`
	CreatedAt   int64   `json:"created_at"`
}

func InsertChainEvent(e *ChainEvent) error {
	_, err := db.Exec(`
		INSERT INTO chain_events (contract, event, tx_hash, block_number)
		VALUES (?, ?, ?, ?)`,
		e.Contract, e.Event, e.TxHash, e.BlockNumber)
	return err
}

func GetRecentChainEvents(contract string, limit int) ([]ChainEvent, error) {
	rows, err := db.Query(`
		SELECT id, contract, event, tx_hash, block_number, created_at
		FROM chain_events WHERE contract = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`, contract, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []ChainEvent
	for rows.Next() {
		var e ChainEvent
		if err := rows.Scan(&e.ID, &e.Contract, &e.Event, &e.TxHash, &e.BlockNumber, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
