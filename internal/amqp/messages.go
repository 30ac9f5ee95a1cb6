package amqp

import (
	"encoding/json"
	"time"
)

// SnapshotLoadedMessage announces that a new ledger snapshot was loaded and
// stored. It carries only the identifiers; consumers read the snapshot back
// from the store.
type SnapshotLoadedMessage struct {
	SnapshotID int64     `json:"snapshot_id"`
	Checksum   string    `json:"checksum"`
	Source     string    `json:"source"`
	Postings   int       `json:"postings"`
	Timestamp  time.Time `json:"timestamp"`
}

func NewSnapshotLoadedMessage(snapshotID int64, checksum, source string, postings int) *SnapshotLoadedMessage {
	return &SnapshotLoadedMessage{
		SnapshotID: snapshotID,
		Checksum:   checksum,
		Source:     source,
		Postings:   postings,
		Timestamp:  time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *SnapshotLoadedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// SnapshotLoadedMessageFromJSON decodes a message body.
func SnapshotLoadedMessageFromJSON(data []byte) (*SnapshotLoadedMessage, error) {
	var msg SnapshotLoadedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
