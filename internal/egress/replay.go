package egress

import (
	"bufio"
	"encoding/json"
	"os"
)

// ReplayRecords reads the journal file at path and returns every decoded
// record whose timestamp falls within [fromMs, toMs]. Used by the
// `replay` CLI subcommand to rehydrate a window of persisted history;
// malformed lines are skipped rather than aborting the whole read.
func ReplayRecords(path string, fromMs, toMs int64) ([]journalRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []journalRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		var rec journalRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		if rec.TsMs < fromMs || rec.TsMs > toMs {
			continue
		}
		out = append(out, rec)
	}
	if err := scanner.Err(); err != nil {
		return out, err
	}
	return out, nil
}
