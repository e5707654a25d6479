// Package store implements the PAN's device table (§3): the flat,
// authoritative record list behind the routing tree, persisted as plain
// text for interoperability across rewrites (§9).
package store

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/fitprotocol/fitp/addr"
	"github.com/fitprotocol/fitp/internal/logging"
)

var logger = logging.Component("store")

// DefaultPath matches the daemon's out-of-the-box config (§6).
const DefaultPath = "/tmp/fitprotocold.devices"

// Record is one device table row. Invariants (§3): EDID unique; if
// Coordinator, CID is unique and nonzero; if not Coordinator, CID is 0 and
// Parent != InvalidCID; Parent must itself name a valid coordinator or PAN.
type Record struct {
	EDID        addr.EDID
	Parent      addr.CID
	CID         addr.CID
	Sleepy      bool
	Coordinator bool
}

// Table is the PAN's device table. Safe for concurrent use.
type Table struct {
	mu      sync.RWMutex
	path    string
	records []Record
}

// New returns an empty table persisting to path (DefaultPath if empty).
func New(path string) *Table {
	if path == "" {
		path = DefaultPath
	}
	return &Table{path: path}
}

// SetConfigPath repoints persistence at a new file (§6 set_config_path);
// does not itself load or save.
func (t *Table) SetConfigPath(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.path = path
}

// Load reads the table from its configured path. A missing or unreadable
// file is non-fatal (§4.9, §9): the table is left empty and the caller
// proceeds as if starting fresh.
func (t *Table) Load() {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, err := os.Open(t.path)
	if err != nil {
		logger.Warn("device table unreadable, starting empty", "path", t.path, "error", err)
		return
	}
	defer f.Close()

	var records []Record
	var scanner = bufio.NewScanner(f)
	for scanner.Scan() {
		rec, ok := parseLine(scanner.Text())
		if !ok {
			continue
		}
		records = append(records, rec)
	}
	t.records = records
}

// Save persists the table to its configured path. Write failure is logged
// and otherwise ignored (§4.9): the in-memory table remains authoritative.
func (t *Table) Save() {
	t.mu.RLock()
	var lines = make([]string, 0, len(t.records))
	for _, r := range t.records {
		lines = append(lines, formatLine(r))
	}
	var path = t.path
	t.mu.RUnlock()

	var content = strings.Join(lines, "\n")
	if len(lines) > 0 {
		content += "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		logger.Error("device table write failed", "path", path, "error", err)
	}
}

func formatLine(r Record) string {
	return fmt.Sprintf("%02X %02X %02X %02X | %02X | %02X | %d | %d",
		r.EDID[0], r.EDID[1], r.EDID[2], r.EDID[3],
		byte(r.Parent), byte(r.CID), boolBit(r.Sleepy), boolBit(r.Coordinator))
}

func parseLine(line string) (Record, bool) {
	var parts = strings.Split(line, "|")
	if len(parts) != 5 {
		return Record{}, false
	}
	var edidFields = strings.Fields(strings.TrimSpace(parts[0]))
	if len(edidFields) != 4 {
		return Record{}, false
	}
	var r Record
	for i, hx := range edidFields {
		v, err := strconv.ParseUint(hx, 16, 8)
		if err != nil {
			return Record{}, false
		}
		r.EDID[i] = byte(v)
	}
	parent, err := strconv.ParseUint(strings.TrimSpace(parts[1]), 16, 8)
	if err != nil {
		return Record{}, false
	}
	cid, err := strconv.ParseUint(strings.TrimSpace(parts[2]), 16, 8)
	if err != nil {
		return Record{}, false
	}
	r.Parent = addr.CID(parent)
	r.CID = addr.CID(cid)
	r.Sleepy = strings.TrimSpace(parts[3]) == "1"
	r.Coordinator = strings.TrimSpace(parts[4]) == "1"
	return r, true
}

func boolBit(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Add appends or replaces a record for EDID, enforcing the table's
// uniqueness invariants. Returns false if the record would violate them.
func (t *Table) Add(r Record) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if r.Coordinator {
		if r.CID == addr.PANCID && r.EDID != (addr.EDID{}) {
			return false // CID 0 is reserved for the PAN record itself
		}
		for _, other := range t.records {
			if other.Coordinator && other.CID == r.CID && !other.EDID.Equal(r.EDID) {
				return false // CID collision
			}
		}
	} else {
		r.CID = addr.PANCID
		if r.Parent == addr.InvalidCID {
			return false
		}
	}

	for i := range t.records {
		if t.records[i].EDID.Equal(r.EDID) {
			t.records[i] = r
			return true
		}
	}
	t.records = append(t.records, r)
	return true
}

// Remove deletes the record for edid, used by Unpair (§6).
func (t *Table) Remove(edid addr.EDID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.records {
		if t.records[i].EDID.Equal(edid) {
			t.records = append(t.records[:i], t.records[i+1:]...)
			return true
		}
	}
	return false
}

// Lookup returns the record for edid, if any.
func (t *Table) Lookup(edid addr.EDID) (Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, r := range t.records {
		if r.EDID.Equal(edid) {
			return r, true
		}
	}
	return Record{}, false
}

// LookupByCID returns the coordinator record assigned cid.
func (t *Table) LookupByCID(cid addr.CID) (Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, r := range t.records {
		if r.Coordinator && r.CID.Mask() == cid.Mask() {
			return r, true
		}
	}
	return Record{}, false
}

// IsCoordinator reports whether edid is a known coordinator with the given
// CID, a direct port of the original fitp_is_coord lookup (SPEC_FULL
// supplemented feature) distinct from the full DeviceList dump.
func (t *Table) IsCoordinator(edid addr.EDID, cid addr.CID) bool {
	rec, ok := t.Lookup(edid)
	return ok && rec.Coordinator && rec.CID.Mask() == cid.Mask()
}

// Records returns a snapshot copy of every record, for DeviceList and tree
// rebuilding.
func (t *Table) Records() []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Record(nil), t.records...)
}

// FreeCoordCID returns the lowest unassigned CID in [MinCoordCID,
// MaxCoordCID], used by JOIN election to allocate a new coordinator slot.
func (t *Table) FreeCoordCID() (addr.CID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var used = make(map[addr.CID]bool)
	for _, r := range t.records {
		if r.Coordinator {
			used[r.CID.Mask()] = true
		}
	}
	for c := addr.MinCoordCID; c <= addr.MaxCoordCID; c++ {
		if !used[c] {
			return c, true
		}
	}
	return addr.InvalidCID, false
}
