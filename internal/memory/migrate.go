package memory

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"polaris/internal/logging"
)

// correctionRecord mirrors one line of the legacy corrections log.
type correctionRecord struct {
	Timestamp      string `json:"timestamp"`
	OriginalAction string `json:"original_action"`
	Correction     string `json:"correction"`
	SessionID      string `json:"session_id"`
	Category       string `json:"category"`
}

// ImportCorrectionsLog performs the one-shot migration of a JSON-lines
// corrections log into the feedback table. Imported rows are marked
// applied=1 so the read path ignores them. Malformed lines are skipped,
// never fatal. Re-running on a partially migrated database duplicates
// rows; the caller guards against that.
func (s *Store) ImportCorrectionsLog(ctx context.Context, path string) (imported, skipped int, err error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, 0, nil
		}
		return 0, 0, fmt.Errorf("failed to open corrections log: %w", err)
	}
	defer f.Close()

	log := logging.Get(logging.CategoryMemory)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var rec correctionRecord
		if err := json.Unmarshal(line, &rec); err != nil || rec.Correction == "" {
			skipped++
			continue
		}

		_, err := s.SaveFeedback(ctx, Feedback{
			Timestamp:      rec.Timestamp,
			OriginalAction: rec.OriginalAction,
			Correction:     rec.Correction,
			Applied:        true,
			SessionID:      rec.SessionID,
			Category:       rec.Category,
		}, nil)
		if err != nil {
			log.Warnf("failed to import correction: %v", err)
			skipped++
			continue
		}
		imported++
	}
	if err := scanner.Err(); err != nil {
		return imported, skipped, fmt.Errorf("failed to read corrections log: %w", err)
	}

	log.Infof("corrections log imported: %d rows, %d skipped", imported, skipped)
	return imported, skipped, nil
}
