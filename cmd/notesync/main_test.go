package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/personalizedrefrigerator/notesync/internal/common"
)

func TestCursorStatusLine(t *testing.T) {
	line, err := cursorStatusLine("42", nil)
	require.NoError(t, err)
	assert.Equal(t, "Sync cursor: 42", line)

	line, err = cursorStatusLine("", fmt.Errorf("setting sync.cursor: %w", common.ErrNotFound))
	require.NoError(t, err)
	assert.Equal(t, "Sync cursor: (never synced)", line)

	// a real read failure surfaces instead of masquerading as a fresh profile
	dbErr := errors.New("database is locked")
	_, err = cursorStatusLine("", dbErr)
	assert.ErrorIs(t, err, dbErr)
}
