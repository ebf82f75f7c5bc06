package citymatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComposerWhitespaceSubmitIsNoop(t *testing.T) {
	sdk, fb, m := newTestSDK(t)
	id := fb.addChat("alice")

	var notified bool
	c := sdk.Chats.Composer(id,
		WithErrorNotifier(func(error) { notified = true }),
		WithUpgradePrompt(func(error) { notified = true }),
	)
	c.SetText("   \n ")

	require.NoError(t, c.Submit(context.Background()))
	assert.Equal(t, 0, fb.count("SendMessage"))
	assert.Equal(t, "   \n ", c.Text())
	assert.Equal(t, Composing, c.State())
	assert.False(t, notified)
	assert.Empty(t, m.outcomes)
}

func TestComposerSentClearsDraft(t *testing.T) {
	sdk, fb, m := newTestSDK(t)
	id := fb.addChat("alice")

	c := sdk.Chats.Composer(id)
	c.SetText("  hello there ")
	require.NoError(t, c.Submit(context.Background()))

	assert.Equal(t, Sent, c.State())
	assert.Empty(t, c.Text())
	assert.Equal(t, 1, m.outcomes[Sent])

	msgs, err := sdk.Chats.History(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello there", msgs[0].Content)

	c.SetText("again")
	assert.Equal(t, Composing, c.State())
}

func TestComposerLimitOpensUpgradeFlow(t *testing.T) {
	sdk, fb, m := newTestSDK(t)
	id := fb.addChat("alice")
	fb.fail("SendMessage", &APIError{Message: "Chat limit reached. Upgrade to continue."})

	flow := sdk.Plans.Upgrade()
	var errored bool
	c := sdk.Chats.Composer(id,
		WithUpgradePrompt(func(err error) { flow.OpenFor(err) }),
		WithErrorNotifier(func(error) { errored = true }),
	)
	c.SetText("hello")

	err := c.Submit(context.Background())
	require.ErrorIs(t, err, ErrChatLimitReached)
	assert.Equal(t, LimitBlocked, c.State())
	assert.Equal(t, "hello", c.Text())
	assert.True(t, flow.IsOpen())
	assert.False(t, errored)
	assert.Equal(t, 1, m.outcomes[LimitBlocked])
}

func TestComposerFailureKeepsDraft(t *testing.T) {
	sdk, fb, m := newTestSDK(t)
	id := fb.addChat("alice")
	fb.fail("SendMessage", errNetwork)

	var notified error
	c := sdk.Chats.Composer(id, WithErrorNotifier(func(err error) { notified = err }))
	c.SetText("hello")

	err := c.Submit(context.Background())
	require.ErrorIs(t, err, ErrOperationFailed)
	assert.Equal(t, SendFailed, c.State())
	assert.Equal(t, "hello", c.Text())
	assert.Equal(t, err, notified)
	assert.Equal(t, 1, m.outcomes[SendFailed])
	assert.Equal(t, 1, fb.count("SendMessage"), "failed sends are not retried")

	// the user may submit again by hand
	fb.fail("SendMessage", nil)
	require.NoError(t, c.Submit(context.Background()))
	assert.Equal(t, Sent, c.State())
}

func TestComposerRejectsConcurrentSubmit(t *testing.T) {
	sdk, fb, _ := newTestSDK(t)
	id := fb.addChat("alice")
	gate := fb.gate("SendMessage")

	c := sdk.Chats.Composer(id)
	c.SetText("first")

	done := make(chan error, 1)
	go func() { done <- c.Submit(context.Background()) }()
	require.True(t, fb.waitEntered("SendMessage", 2*time.Second))
	assert.Equal(t, Sending, c.State())

	c.SetText("edited while sending")
	assert.Equal(t, "first", c.Text())

	err := c.Submit(context.Background())
	require.ErrorIs(t, err, ErrLocalValidation)

	close(gate)
	require.NoError(t, <-done)
	assert.Equal(t, Sent, c.State())
	assert.Equal(t, 1, fb.count("SendMessage"))
}

func TestSendStateString(t *testing.T) {
	assert.Equal(t, "composing", Composing.String())
	assert.Equal(t, "sending", Sending.String())
	assert.Equal(t, "sent", Sent.String())
	assert.Equal(t, "limit_blocked", LimitBlocked.String())
	assert.Equal(t, "failed", SendFailed.String())
}
