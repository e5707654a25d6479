package net

import (
	"sync"

	"github.com/fitprotocol/fitp/addr"
)

// mailboxCapacity is the PAN's sleepy-mailbox size (§3).
const mailboxCapacity = 10

// mailboxEntry holds one deferred payload for a sleepy end device.
type mailboxEntry struct {
	Valid bool
	Dest  addr.EDID
	Data  []byte
}

// Mailbox is the PAN-only sleepy mailbox (§4.5): at most one entry per
// EDID, newer overwrites older.
type Mailbox struct {
	mu      sync.Mutex
	entries [mailboxCapacity]mailboxEntry
}

// Put inserts or replaces the pending payload for dest. Returns false only
// if dest has no existing entry and the table is full.
func (m *Mailbox) Put(dest addr.EDID, data []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.entries {
		if m.entries[i].Valid && m.entries[i].Dest.Equal(dest) {
			m.entries[i].Data = append([]byte(nil), data...)
			return true
		}
	}
	for i := range m.entries {
		if !m.entries[i].Valid {
			m.entries[i] = mailboxEntry{Valid: true, Dest: dest, Data: append([]byte(nil), data...)}
			return true
		}
	}
	return false
}

// Take removes and returns dest's pending payload, if any.
func (m *Mailbox) Take(dest addr.EDID) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.entries {
		if m.entries[i].Valid && m.entries[i].Dest.Equal(dest) {
			var data = m.entries[i].Data
			m.entries[i] = mailboxEntry{}
			return data, true
		}
	}
	return nil, false
}

// Has reports whether dest has a pending entry, without consuming it.
func (m *Mailbox) Has(dest addr.EDID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.entries {
		if m.entries[i].Valid && m.entries[i].Dest.Equal(dest) {
			return true
		}
	}
	return false
}

// drSleeperState is the end-device side of the DATA_DR exchange (§4.5).
type drSleeperState int

const (
	drIdle drSleeperState = iota
	drAckWaiting
	drDataWaiting
	drGoSleep
	drDataReceived
)
