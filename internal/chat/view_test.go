package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velosdrop/velosdrop-sub001/internal/models"
)

func msg(id, content string, at time.Time) models.ChatMessage {
	return models.ChatMessage{
		ID:         id,
		OrderID:    "o1",
		SenderRole: models.RoleCustomer,
		SenderID:   "c1",
		Type:       models.MessageText,
		Content:    content,
		CreatedAt:  at,
	}
}

func TestViewDeduplicatesHistoryAndLive(t *testing.T) {
	v := NewView()
	at := time.Now()
	m := msg("m1", "hello", at)

	// same message arrives on both paths, in either order
	require.True(t, v.Add(m))
	assert.False(t, v.Add(m))
	assert.Equal(t, 0, v.AddHistory([]models.ChatMessage{m}))

	require.Len(t, v.Messages(), 1)
	assert.Equal(t, "m1", v.Messages()[0].ID)
}

func TestViewHistoryThenLive(t *testing.T) {
	v := NewView()
	at := time.Now()
	history := []models.ChatMessage{
		msg("m1", "one", at),
		msg("m2", "two", at.Add(time.Second)),
	}
	require.Equal(t, 2, v.AddHistory(history))

	// live delivery of a message already fetched, plus a genuinely new one
	assert.False(t, v.Add(history[1]))
	assert.True(t, v.Add(msg("m3", "three", at.Add(2*time.Second))))

	msgs := v.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{"m1", "m2", "m3"}, []string{msgs[0].ID, msgs[1].ID, msgs[2].ID})
}

func TestViewSpeculativeUpgrade(t *testing.T) {
	v := NewView()
	at := time.Now()

	local := msg("", "sending...", at)
	local.Content = "on my way"
	v.AddSpeculative(local)
	require.Len(t, v.Messages(), 1)
	assert.Empty(t, v.Messages()[0].ID)

	// the authoritative copy comes back with an id and server timestamp
	authoritative := msg("m1", "on my way", at.Add(50*time.Millisecond))
	require.True(t, v.Add(authoritative))

	msgs := v.Messages()
	require.Len(t, msgs, 1, "speculative entry must be replaced, not duplicated")
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, authoritative.CreatedAt, msgs[0].CreatedAt)
}

func TestViewSpeculativeIgnoresRepeats(t *testing.T) {
	v := NewView()
	local := msg("", "hi", time.Now())
	v.AddSpeculative(local)
	v.AddSpeculative(local)
	assert.Len(t, v.Messages(), 1)
}

func TestViewMessagesSortedByTimestamp(t *testing.T) {
	v := NewView()
	at := time.Now()
	// live events land before the slower history fetch
	require.True(t, v.Add(msg("m3", "three", at.Add(2*time.Second))))
	v.AddHistory([]models.ChatMessage{
		msg("m1", "one", at),
		msg("m2", "two", at.Add(time.Second)),
	})

	msgs := v.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{"m1", "m2", "m3"}, []string{msgs[0].ID, msgs[1].ID, msgs[2].ID})
}

func TestIdentity(t *testing.T) {
	at := time.Now()
	withID := msg("m1", "x", at)
	assert.Equal(t, "id:m1", Identity(withID))

	anon := msg("", "x", at)
	other := msg("", "y", at)
	assert.NotEqual(t, Identity(anon), Identity(other))
	assert.Equal(t, Identity(anon), Identity(msg("", "x", at)))
}
