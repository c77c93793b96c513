package oplog

import "encoding/json"

// entryFormatVersion is written ahead of every encoded entry so that future
// entry kinds can be added without breaking readers of old logs. Carried
// forward from the original implementation's versioned binary format.
const entryFormatVersion byte = 1

// encodeEntry serializes an entry for storage. The teacher's codebase reaches
// for encoding/json everywhere it needs a self-describing wire format (the
// Raft Command envelope, FSM snapshots); oplog entries follow the same
// convention rather than introducing a bespoke binary format.
func encodeEntry(e *Entry) ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(body)+1)
	out = append(out, entryFormatVersion)
	out = append(out, body...)
	return out, nil
}

func decodeEntry(data []byte) (*Entry, error) {
	if len(data) == 0 {
		return nil, errEmptyEntry
	}
	// version byte is reserved for future format changes; only version 1 exists today.
	var e Entry
	if err := json.Unmarshal(data[1:], &e); err != nil {
		return nil, err
	}
	return &e, nil
}
