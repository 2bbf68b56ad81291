package validate

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailvault/internal/model"
	"github.com/nhle/mailvault/internal/secret"
	"github.com/nhle/mailvault/internal/store"
	"github.com/nhle/mailvault/internal/token"
)

type fakeTokens struct {
	mu       sync.Mutex
	rejected map[string]bool // client ids whose grant fails
	calls    int
}

func (f *fakeTokens) Acquire(_ context.Context, _ token.Profile, clientID, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.rejected[clientID] {
		return "", &testRejection{}
	}
	return "access-token", nil
}

type testRejection struct{}

func (e *testRejection) Error() string {
	return `token rejected: {"error":"invalid_grant","refresh_token":"leaked"}`
}

func newTestRunner(t *testing.T, tokens TokenAcquirer) (*Runner, *store.SQLiteStore, *secret.Cipher) {
	t.Helper()

	cipher, err := secret.New("test-master-secret")
	require.NoError(t, err)

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), cipher)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	runner := NewRunner(st, cipher, tokens, nil)
	runner.sleep = func(time.Duration) {}
	return runner, st, cipher
}

func seedAccounts(t *testing.T, st *store.SQLiteStore, emails ...string) []model.Account {
	t.Helper()

	for _, email := range emails {
		_, err := st.CreateAccount(context.Background(), model.Account{
			Email:        email,
			ClientID:     "client-" + email,
			RefreshToken: "refresh-" + email,
		})
		require.NoError(t, err)
	}

	// Hand the runner rows as stored, secrets still encrypted.
	accounts, err := st.ListAccounts(context.Background(), store.AccountFilter{})
	require.NoError(t, err)
	require.Len(t, accounts, len(emails))
	return accounts
}

func collectEvents() (*[]Event, Sink) {
	events := &[]Event{}
	return events, SinkFunc(func(e Event) { *events = append(*events, e) })
}

func kinds(events []Event) []EventKind {
	out := make([]EventKind, 0, len(events))
	for _, e := range events {
		out = append(out, e.Kind)
	}
	return out
}

func TestRunEmitsEventSequenceWithoutDelay(t *testing.T) {
	runner, st, _ := newTestRunner(t, &fakeTokens{})
	accounts := seedAccounts(t, st, "a@x.com", "b@x.com", "c@x.com")

	events, sink := collectEvents()
	summary, err := runner.Run(context.Background(), accounts, model.RunManual, 0, sink)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 3, summary.Succeeded)
	assert.Zero(t, summary.Failed)

	assert.Equal(t, []EventKind{
		EventStart,
		EventProgress, EventProgress, EventProgress,
		EventComplete,
	}, kinds(*events))
}

func TestRunDelaysBetweenItemsButNotAfterLast(t *testing.T) {
	runner, st, _ := newTestRunner(t, &fakeTokens{})
	accounts := seedAccounts(t, st, "a@x.com", "b@x.com", "c@x.com")

	var slept []time.Duration
	runner.sleep = func(d time.Duration) { slept = append(slept, d) }

	events, sink := collectEvents()
	_, err := runner.Run(context.Background(), accounts, model.RunManual, 2, sink)
	require.NoError(t, err)

	// Three items mean two gaps.
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, slept)

	delayCount := 0
	for _, e := range *events {
		if e.Kind == EventDelay {
			delayCount++
			assert.Equal(t, 2, e.Seconds)
		}
	}
	assert.Equal(t, 2, delayCount)
	assert.Equal(t, EventComplete, (*events)[len(*events)-1].Kind)
}

func TestRunClampsDelay(t *testing.T) {
	runner, st, _ := newTestRunner(t, &fakeTokens{})
	accounts := seedAccounts(t, st, "a@x.com", "b@x.com")

	var slept []time.Duration
	runner.sleep = func(d time.Duration) { slept = append(slept, d) }

	_, err := runner.Run(context.Background(), accounts, model.RunManual, 999, NopSink)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{MaxDelaySeconds * time.Second}, slept)
}

func TestRunRecordsFailureAndKeepsGoing(t *testing.T) {
	tokens := &fakeTokens{rejected: map[string]bool{"client-b@x.com": true}}
	runner, st, _ := newTestRunner(t, tokens)
	accounts := seedAccounts(t, st, "a@x.com", "b@x.com", "c@x.com")

	events, sink := collectEvents()
	summary, err := runner.Run(context.Background(), accounts, model.RunManual, 0, sink)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, []string{"b@x.com"}, summary.FailedList)

	final := (*events)[len(*events)-1]
	assert.Equal(t, EventComplete, final.Kind)
	assert.Equal(t, []string{"b@x.com"}, final.FailedList)

	// The failed account got an audit row with a redacted message.
	failed, err := st.GetAccountByEmail(context.Background(), "b@x.com")
	require.NoError(t, err)
	logs, err := st.ListValidationLogs(context.Background(), failed.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, model.OutcomeFailed, logs[0].Outcome)
	assert.NotContains(t, logs[0].Message, "leaked")
	assert.Nil(t, failed.LastValidated)

	// Successful accounts were stamped.
	ok, err := st.GetAccountByEmail(context.Background(), "a@x.com")
	require.NoError(t, err)
	assert.NotNil(t, ok.LastValidated)
}

func TestRunDistinguishesDecryptionFailure(t *testing.T) {
	tokens := &fakeTokens{}
	runner, st, _ := newTestRunner(t, tokens)
	accounts := seedAccounts(t, st, "a@x.com")

	// Corrupt the stored refresh token: tagged ciphertext under another key.
	otherCipher, err := secret.New("a-different-master-secret")
	require.NoError(t, err)
	foreign, err := otherCipher.Encrypt("refresh-a@x.com")
	require.NoError(t, err)
	accounts[0].RefreshToken = foreign

	summary, err := runner.Run(context.Background(), accounts, model.RunManual, 0, NopSink)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)

	logs, err := st.ListValidationLogs(context.Background(), accounts[0].ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Contains(t, logs[0].Message, "credential decryption failed")

	// No provider call was made for an undecryptable credential.
	assert.Zero(t, tokens.calls)
}

func TestRunSweepsOldLogs(t *testing.T) {
	runner, st, _ := newTestRunner(t, &fakeTokens{})
	accounts := seedAccounts(t, st, "a@x.com")

	require.NoError(t, st.InsertValidationLog(context.Background(), model.ValidationLogEntry{
		AccountID: accounts[0].ID,
		Email:     accounts[0].Email,
		RunType:   model.RunManual,
		Outcome:   model.OutcomeSuccess,
		CreatedAt: time.Now().UTC().AddDate(0, -RetentionMonths-1, 0),
	}))

	_, err := runner.Run(context.Background(), accounts, model.RunManual, 0, NopSink)
	require.NoError(t, err)

	logs, err := st.ListValidationLogs(context.Background(), accounts[0].ID, 10)
	require.NoError(t, err)
	// Only the fresh row from this run remains.
	require.Len(t, logs, 1)
	assert.Equal(t, model.RunManual, logs[0].RunType)
}

func TestRunRejectsConcurrentRuns(t *testing.T) {
	runner, st, _ := newTestRunner(t, &fakeTokens{})
	accounts := seedAccounts(t, st, "a@x.com")

	started := make(chan struct{})
	release := make(chan struct{})
	runner.sleep = func(time.Duration) {
		close(started)
		<-release
	}

	done := make(chan error, 1)
	go func() {
		// Two accounts would be needed for a sleep; reuse the one account
		// twice to force a gap.
		_, err := runner.Run(context.Background(), []model.Account{accounts[0], accounts[0]}, model.RunManual, 1, NopSink)
		done <- err
	}()

	<-started
	_, err := runner.Run(context.Background(), accounts, model.RunManual, 0, NopSink)
	assert.True(t, errors.Is(err, ErrRunInProgress))

	close(release)
	require.NoError(t, <-done)
}
