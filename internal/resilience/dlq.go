package resilience

import (
	"bufio"
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"

	"github.com/gardetrack/gardesync/internal/model"
)

// DLQEntry is a source record that failed to apply and can be replayed later.
type DLQEntry struct {
	RunID     string             `json:"run_id"`
	Record    model.SourceRecord `json:"record"`
	Error     string             `json:"error"`
	ErrorType string             `json:"error_type"` // "transient" or "permanent"
	FailedAt  time.Time          `json:"failed_at"`
}

// ClassifyError categorizes an error as "transient" or "permanent".
func ClassifyError(err error) string {
	if IsTransient(err) {
		return "transient"
	}
	return "permanent"
}

// AppendDLQ appends entries to a JSONL dead-letter file, creating it if
// needed. The file can be replayed with the records intact.
func AppendDLQ(path string, entries []DLQEntry) error {
	if len(entries) == 0 {
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return eris.Wrapf(err, "dlq: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	enc := json.NewEncoder(f)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return eris.Wrap(err, "dlq: encode entry")
		}
	}
	return nil
}

// LoadDLQ reads all entries from a JSONL dead-letter file.
func LoadDLQ(path string) ([]DLQEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "dlq: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	var entries []DLQEntry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var e DLQEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, eris.Wrap(err, "dlq: decode entry")
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrapf(err, "dlq: read %s", path)
	}
	return entries, nil
}
