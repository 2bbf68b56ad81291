package imapmail

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailvault/internal/model"
)

func TestProbeFolderFirstCandidate(t *testing.T) {
	var tried []string
	name, probeErr := probeFolder(model.FolderInbox, func(n string) error {
		tried = append(tried, n)
		return nil
	})
	require.Nil(t, probeErr)
	assert.Equal(t, "INBOX", name)
	assert.Equal(t, []string{"INBOX"}, tried)
}

func TestProbeFolderFallsThroughCandidates(t *testing.T) {
	// Only the locale-specific third name exists on this server.
	name, probeErr := probeFolder(model.FolderJunk, func(n string) error {
		if n == "Spam" {
			return nil
		}
		return errors.New("NO mailbox does not exist")
	})
	require.Nil(t, probeErr)
	assert.Equal(t, "Spam", name)
}

func TestProbeFolderExhaustionKeepsTrace(t *testing.T) {
	selectErr := errors.New("NO mailbox does not exist")
	_, probeErr := probeFolder(model.FolderDeleted, func(string) error {
		return selectErr
	})
	require.NotNil(t, probeErr)
	assert.Equal(t, model.FolderDeleted, probeErr.Folder)
	assert.Equal(t, []string{"Deleted", "Deleted Items", "Trash"}, probeErr.Tried)
	assert.True(t, errors.Is(probeErr, selectErr))
	assert.Contains(t, probeErr.Error(), "Deleted Items")
}

func TestProbeFolderUnknownFolder(t *testing.T) {
	_, probeErr := probeFolder(model.Folder("archive"), func(string) error {
		t.Fatal("selectFn must not be called for an unknown folder")
		return nil
	})
	require.NotNil(t, probeErr)
}

func TestProbeErrorMentionsAvailableMailboxes(t *testing.T) {
	err := &ProbeError{
		Folder:    model.FolderJunk,
		Tried:     []string{"Junk", "Junk Email", "Spam"},
		Available: []string{"INBOX", "Archiv", "Papierkorb"},
	}
	assert.Contains(t, err.Error(), "server has: INBOX, Archiv, Papierkorb")
}
