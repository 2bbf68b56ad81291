// Package retrieve implements the mail retrieval failover engine: Graph
// REST first, then IMAP against the modern host, then IMAP against the
// legacy host, returning on first success and aggregating all failures.
package retrieve

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/nhle/mailvault/internal/model"
	"github.com/nhle/mailvault/internal/token"
)

// TokenAcquirer exchanges a refresh credential for an access token.
type TokenAcquirer interface {
	Acquire(ctx context.Context, profile token.Profile, clientID, refreshToken string) (string, error)
}

// RESTBackend is the Graph API retrieval path.
type RESTBackend interface {
	ListMessages(ctx context.Context, accessToken string, folder model.Folder, offset, pageSize int) ([]model.Message, error)
	GetMessage(ctx context.Context, accessToken, id string) (*model.MessageDetail, error)
	DeleteMessages(ctx context.Context, accessToken string, ids []string) (*model.BatchDeleteOutcome, error)
}

// ProtocolBackend is an IMAP retrieval path against one host.
type ProtocolBackend interface {
	ListMessages(ctx context.Context, account, accessToken string, folder model.Folder, offset, pageSize int) ([]model.Message, error)
	GetMessage(ctx context.Context, account, accessToken string, folder model.Folder, id string) (*model.MessageDetail, error)
}

// Engine tries backends in fixed priority order. Each attempt acquires
// its own access token with the profile matching that backend, so a token
// failure on one backend never blocks the next. Attempts are strictly
// sequential; there is no internal retry.
type Engine struct {
	tokens TokenAcquirer
	rest   RESTBackend
	modern ProtocolBackend
	legacy ProtocolBackend
	logger *zap.Logger
}

// New creates a failover engine over the three backends.
func New(tokens TokenAcquirer, rest RESTBackend, modern, legacy ProtocolBackend, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		tokens: tokens,
		rest:   rest,
		modern: modern,
		legacy: legacy,
		logger: logger,
	}
}

// listAttempt is one backend's listing path: acquire a token with the
// backend's profile, then list.
type listAttempt struct {
	backend model.Backend
	profile token.Profile
	list    func(ctx context.Context, accessToken string) ([]model.Message, error)
}

// ListMessages fetches one page of headers from the first backend that
// succeeds. On exhaustion it returns an *AggregatedError with one
// sub-error per attempted backend, in order.
func (e *Engine) ListMessages(ctx context.Context, account model.Account, folder model.Folder, offset, pageSize int) (*model.MessagePage, error) {
	if !folder.Valid() {
		return nil, fmt.Errorf("unknown folder %q", folder)
	}
	if pageSize <= 0 {
		pageSize = 20
	}

	attempts := []listAttempt{
		{
			backend: model.BackendGraph,
			profile: token.ProfileGraph,
			list: func(ctx context.Context, accessToken string) ([]model.Message, error) {
				return e.rest.ListMessages(ctx, accessToken, folder, offset, pageSize)
			},
		},
		{
			backend: model.BackendIMAPModern,
			profile: token.ProfileIMAP,
			list: func(ctx context.Context, accessToken string) ([]model.Message, error) {
				return e.modern.ListMessages(ctx, account.Email, accessToken, folder, offset, pageSize)
			},
		},
		{
			backend: model.BackendIMAPLegacy,
			profile: token.ProfileLegacy,
			list: func(ctx context.Context, accessToken string) ([]model.Message, error) {
				return e.legacy.ListMessages(ctx, account.Email, accessToken, folder, offset, pageSize)
			},
		},
	}

	agg := &AggregatedError{Op: "list messages"}
	for _, attempt := range attempts {
		accessToken, err := e.tokens.Acquire(ctx, attempt.profile, account.ClientID, account.RefreshToken)
		if err != nil {
			e.logger.Debug("token acquisition failed",
				zap.String("backend", string(attempt.backend)),
				zap.String("email", account.Email),
			)
			agg.Attempts = append(agg.Attempts, AttemptError{Backend: attempt.backend, Err: err})
			continue
		}

		messages, err := attempt.list(ctx, accessToken)
		if err != nil {
			e.logger.Debug("backend listing failed",
				zap.String("backend", string(attempt.backend)),
				zap.String("email", account.Email),
			)
			agg.Attempts = append(agg.Attempts, AttemptError{Backend: attempt.backend, Err: err})
			continue
		}

		return &model.MessagePage{
			Messages: messages,
			Backend:  attempt.backend,
			// Heuristic: a full page is assumed to have more behind it.
			HasMore: len(messages) == pageSize,
		}, nil
	}

	return nil, agg
}

// GetMessageDetail fetches one message's full content, REST first, then
// the modern protocol host. The detail path does not enumerate folder
// name candidates; probing is listing-specific.
func (e *Engine) GetMessageDetail(ctx context.Context, account model.Account, folder model.Folder, id string) (*model.MessageDetail, error) {
	if !folder.Valid() {
		return nil, fmt.Errorf("unknown folder %q", folder)
	}

	agg := &AggregatedError{Op: "get message detail"}

	accessToken, err := e.tokens.Acquire(ctx, token.ProfileGraph, account.ClientID, account.RefreshToken)
	if err == nil {
		detail, restErr := e.rest.GetMessage(ctx, accessToken, id)
		if restErr == nil {
			detail.Backend = model.BackendGraph
			return detail, nil
		}
		agg.Attempts = append(agg.Attempts, AttemptError{Backend: model.BackendGraph, Err: restErr})
	} else {
		agg.Attempts = append(agg.Attempts, AttemptError{Backend: model.BackendGraph, Err: err})
	}

	accessToken, err = e.tokens.Acquire(ctx, token.ProfileIMAP, account.ClientID, account.RefreshToken)
	if err == nil {
		detail, imapErr := e.modern.GetMessage(ctx, account.Email, accessToken, folder, id)
		if imapErr == nil {
			detail.Backend = model.BackendIMAPModern
			return detail, nil
		}
		agg.Attempts = append(agg.Attempts, AttemptError{Backend: model.BackendIMAPModern, Err: imapErr})
	} else {
		agg.Attempts = append(agg.Attempts, AttemptError{Backend: model.BackendIMAPModern, Err: err})
	}

	return nil, agg
}

// DeleteMessages removes messages by their Graph ids. Only the REST
// backend supports deletion; the protocol backends report
// ErrBackendUnsupported rather than attempting an id mapping.
func (e *Engine) DeleteMessages(ctx context.Context, account model.Account, ids []string) (*model.BatchDeleteOutcome, error) {
	if len(ids) == 0 {
		return &model.BatchDeleteOutcome{}, nil
	}

	agg := &AggregatedError{Op: "delete messages"}

	accessToken, err := e.tokens.Acquire(ctx, token.ProfileGraph, account.ClientID, account.RefreshToken)
	if err == nil {
		outcome, restErr := e.rest.DeleteMessages(ctx, accessToken, ids)
		if restErr == nil {
			return outcome, nil
		}
		agg.Attempts = append(agg.Attempts, AttemptError{Backend: model.BackendGraph, Err: restErr})
	} else {
		agg.Attempts = append(agg.Attempts, AttemptError{Backend: model.BackendGraph, Err: err})
	}

	agg.Attempts = append(agg.Attempts,
		AttemptError{Backend: model.BackendIMAPModern, Err: ErrBackendUnsupported},
		AttemptError{Backend: model.BackendIMAPLegacy, Err: ErrBackendUnsupported},
	)
	return nil, agg
}
