package imapmail

import (
	"fmt"
	"strings"

	"github.com/nhle/mailvault/internal/model"
)

// folderCandidates lists, in probe order, the mailbox names a logical
// folder may carry. Naming varies by account locale, so every candidate
// is tried before giving up.
var folderCandidates = map[model.Folder][]string{
	model.FolderInbox:   {"INBOX"},
	model.FolderJunk:    {"Junk", "Junk Email", "Spam"},
	model.FolderDeleted: {"Deleted", "Deleted Items", "Trash"},
}

// ProbeError reports that no candidate mailbox name resolved. Tried
// preserves the full attempt trace; Available lists the mailboxes the
// server actually advertises, for diagnosis.
type ProbeError struct {
	Folder    model.Folder
	Tried     []string
	Available []string
	LastErr   error
}

func (e *ProbeError) Error() string {
	msg := fmt.Sprintf(
		"no mailbox found for folder %q (tried %s)",
		e.Folder, strings.Join(e.Tried, ", "),
	)
	if len(e.Available) > 0 {
		msg += "; server has: " + strings.Join(e.Available, ", ")
	}
	if e.LastErr != nil {
		msg += fmt.Sprintf(": %v", e.LastErr)
	}
	return msg
}

func (e *ProbeError) Unwrap() error { return e.LastErr }

// probeFolder tries each candidate name for folder in order, returning
// the first name selectFn accepts. On total failure it returns a
// ProbeError carrying every name tried.
func probeFolder(folder model.Folder, selectFn func(name string) error) (string, *ProbeError) {
	candidates, ok := folderCandidates[folder]
	if !ok {
		return "", &ProbeError{Folder: folder, LastErr: fmt.Errorf("unknown folder %q", folder)}
	}

	probeErr := &ProbeError{Folder: folder}
	for _, name := range candidates {
		probeErr.Tried = append(probeErr.Tried, name)
		if err := selectFn(name); err != nil {
			probeErr.LastErr = err
			continue
		}
		return name, nil
	}
	return "", probeErr
}
