package net

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitprotocol/fitp/addr"
)

func TestMailboxPutTakeSingleEntry(t *testing.T) {
	var mb = &Mailbox{}
	var ed = addr.EDID{1, 2, 3, 4}
	require.True(t, mb.Put(ed, []byte("hi")))
	assert.True(t, mb.Has(ed))

	data, ok := mb.Take(ed)
	require.True(t, ok)
	assert.Equal(t, []byte("hi"), data)
	assert.False(t, mb.Has(ed))
}

func TestMailboxNewerOverwritesOlder(t *testing.T) {
	var mb = &Mailbox{}
	var ed = addr.EDID{1, 2, 3, 4}
	require.True(t, mb.Put(ed, []byte("first")))
	require.True(t, mb.Put(ed, []byte("second")))

	data, ok := mb.Take(ed)
	require.True(t, ok)
	assert.Equal(t, []byte("second"), data)
}

func TestMailboxFullRejectsNewEDID(t *testing.T) {
	var mb = &Mailbox{}
	for i := 0; i < mailboxCapacity; i++ {
		require.True(t, mb.Put(addr.EDID{byte(i)}, []byte{1}))
	}
	assert.False(t, mb.Put(addr.EDID{99}, []byte{1}))
}

func TestMailboxTakeMissingReturnsFalse(t *testing.T) {
	var mb = &Mailbox{}
	_, ok := mb.Take(addr.EDID{5, 5, 5, 5})
	assert.False(t, ok)
}
