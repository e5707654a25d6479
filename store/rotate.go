package store

import (
	"os"
	"time"

	"github.com/lestrrat-go/strftime"
)

// RotatePattern names the daily snapshot file alongside the live table,
// e.g. "/tmp/fitprotocold.devices.20260730". Mirrors the teacher's log.go
// daily log naming, reused here for device-table history instead of logs.
const RotatePattern = "%Y%m%d"

// Rotate writes a timestamped snapshot of the table next to its live path,
// when the caller's StackConfig has rotation enabled. at is passed in by
// the caller (daemon's tick loop) rather than sampled internally so the
// store package stays free of wall-clock reads.
func (t *Table) Rotate(at time.Time) error {
	pattern, err := strftime.New(t.path + "." + RotatePattern)
	if err != nil {
		return err
	}
	var snapshotPath = pattern.FormatString(at)

	t.mu.RLock()
	var lines = make([]string, 0, len(t.records))
	for _, r := range t.records {
		lines = append(lines, formatLine(r))
	}
	t.mu.RUnlock()

	var content string
	for _, l := range lines {
		content += l + "\n"
	}
	return os.WriteFile(snapshotPath, []byte(content), 0o644)
}
