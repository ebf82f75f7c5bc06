package citymatch

import (
	"context"

	"github.com/rs/zerolog"
)

// ReportReasons are the reasons offered when reporting a user.
var ReportReasons = []string{
	"Inappropriate content",
	"Harassment or bullying",
	"Spam or scam",
	"Fake profile",
	"Other",
}

// Moderation blocks and reports other users.
type Moderation struct {
	backend Backend
	cache   *Cache
	self    UserID
	logger  zerolog.Logger
}

// Block hides user from discovery and chats. Every cached city listing and
// the chat list are invalidated before Block returns.
func (m *Moderation) Block(ctx context.Context, user UserID) error {
	const op = "block_user"
	if user == "" || user == m.self {
		return validationError(op, "cannot block this user")
	}
	if err := m.backend.BlockUser(ctx, user); err != nil {
		return classify(op, err)
	}
	m.cache.AfterMutation(MutationBlockUser, 0)
	m.logger.Info().Str("user", user.String()).Msg("user blocked")
	return nil
}

// Report flags user for review. reason is recorded locally only; the
// backend receives the user ID. No cached data changes.
func (m *Moderation) Report(ctx context.Context, user UserID, reason string) error {
	const op = "report_user"
	if user == "" || user == m.self {
		return validationError(op, "cannot report this user")
	}
	if err := m.backend.ReportUser(ctx, user); err != nil {
		return classify(op, err)
	}
	m.logger.Info().Str("user", user.String()).Str("reason", reason).Msg("user reported")
	return nil
}
