package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"glide-client/internal/cache"
	"glide-client/internal/domain/message"
	glide_errors "glide-client/pkg/errors"
	"glide-client/pkg/logger"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), "1", logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func wireMsg(sid, cliMid string, mid, seq, sendAt int64, content string) *message.Message {
	return message.FromWire(sid, "1", &message.Wire{
		Mid: mid, CliMid: cliMid, Seq: seq,
		From: "2", To: "1", Type: int(message.TypeText),
		Content: content, SendAt: sendAt,
	})
}

func TestSessionRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := &cache.SessionRecord{
		ID: "1_2", Type: 1, To: "2",
		Title: "alice", UnreadCount: 2,
		LastMessage: "hi", LastMessageSender: "alice", UpdateAt: 1234,
	}
	require.NoError(t, s.PutSession(ctx, rec))

	got, err := s.GetSession(ctx, "1_2")
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	n, err := s.SessionCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, s.DeleteSession(ctx, "1_2"))
	_, err = s.GetSession(ctx, "1_2")
	assert.ErrorIs(t, err, glide_errors.ErrNotFound)
}

func TestAllSessions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutSession(ctx, &cache.SessionRecord{ID: "1_2", To: "2"}))
	require.NoError(t, s.PutSession(ctx, &cache.SessionRecord{ID: "1_3", To: "3"}))

	all, err := s.AllSessions(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, s.ClearSessions(ctx))
	all, err = s.AllSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestMessageLookupByBothIds(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	m := wireMsg("1_2", "abc", 42, 7, 1000, "hello")
	require.NoError(t, s.AddMessage(ctx, m))

	byCli, err := s.GetMessage(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "hello", byCli.Content)
	assert.Equal(t, int64(7), byCli.OrderKey())

	byMid, err := s.GetMessageByMid(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "abc", byMid.CliMid)

	_, err = s.GetMessage(ctx, "nope")
	assert.ErrorIs(t, err, glide_errors.ErrNotFound)
	_, err = s.GetMessageByMid(ctx, 99)
	assert.ErrorIs(t, err, glide_errors.ErrNotFound)
}

func TestUpdateKeepsPosition(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// a pending message ordered by send time
	m := wireMsg("1_2", "abc", 0, 0, 1000, "hi")
	require.NoError(t, s.AddMessage(ctx, m))

	// confirmation assigns mid and seq but must not move it
	m.Mid = 42
	m.Seq = 7
	require.NoError(t, s.UpdateMessage(ctx, m))

	got, err := s.GetMessage(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.Mid)

	byMid, err := s.GetMessageByMid(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "abc", byMid.CliMid)

	ms, err := s.MessagesBeforeSeq(ctx, "1_2", 0, 0)
	require.NoError(t, err)
	require.Len(t, ms, 1)
}

func TestUpdateDelivery(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddMessage(ctx, wireMsg("1_2", "abc", 0, 0, 1000, "hi")))
	require.NoError(t, s.UpdateDelivery(ctx, "abc", message.DeliveryFailed))

	got, err := s.GetMessage(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, message.DeliveryFailed, got.Delivery)

	err = s.UpdateDelivery(ctx, "nope", message.DeliverySent)
	assert.ErrorIs(t, err, glide_errors.ErrNotFound)
}

func TestMessagesBeforeSeq(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var batch []*message.Message
	for i := int64(1); i <= 5; i++ {
		batch = append(batch, wireMsg("1_2", string(rune('a'+i)), i, i, 1000+i, "m"))
	}
	require.NoError(t, s.AddMessages(ctx, batch))
	// another session's messages must not leak in
	require.NoError(t, s.AddMessage(ctx, wireMsg("1_9", "zz", 6, 6, 2000, "other")))

	all, err := s.MessagesBeforeSeq(ctx, "1_2", 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, int64(1), all[0].Seq)
	assert.Equal(t, int64(5), all[4].Seq)

	page, err := s.MessagesBeforeSeq(ctx, "1_2", 4, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(2), page[0].Seq)
	assert.Equal(t, int64(3), page[1].Seq)
}

func TestMessagesBeforeTime(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := int64(1); i <= 4; i++ {
		require.NoError(t, s.AddMessage(ctx, wireMsg("1_2", string(rune('a'+i)), i, i, 1000*i, "m")))
	}

	got, err := s.MessagesBeforeTime(ctx, "1_2", 3000, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1000), got[0].SendAt)
	assert.Equal(t, int64(2000), got[1].SendAt)
}

func TestLatestMessage(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.LatestMessage(ctx, "1_2")
	assert.ErrorIs(t, err, glide_errors.ErrNotFound)

	require.NoError(t, s.AddMessage(ctx, wireMsg("1_2", "a", 1, 1, 1001, "first")))
	require.NoError(t, s.AddMessage(ctx, wireMsg("1_2", "b", 2, 2, 1002, "second")))

	got, err := s.LatestMessage(ctx, "1_2")
	require.NoError(t, err)
	assert.Equal(t, "second", got.Content)
}

func TestDeleteSessionMessages(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddMessage(ctx, wireMsg("1_2", "a", 1, 1, 1001, "x")))
	require.NoError(t, s.AddMessage(ctx, wireMsg("1_2", "b", 2, 2, 1002, "y")))
	require.NoError(t, s.AddMessage(ctx, wireMsg("1_9", "c", 3, 3, 1003, "keep")))

	require.NoError(t, s.DeleteSessionMessages(ctx, "1_2"))

	ms, err := s.MessagesBeforeSeq(ctx, "1_2", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, ms)
	// secondary indexes are cleaned up with the rows
	_, err = s.GetMessage(ctx, "a")
	assert.ErrorIs(t, err, glide_errors.ErrNotFound)
	_, err = s.GetMessageByMid(ctx, 2)
	assert.ErrorIs(t, err, glide_errors.ErrNotFound)

	kept, err := s.GetMessage(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, "keep", kept.Content)
}

func TestDeleteMessage(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddMessage(ctx, wireMsg("1_2", "a", 1, 1, 1001, "x")))
	require.NoError(t, s.DeleteMessage(ctx, "a"))

	_, err := s.GetMessage(ctx, "a")
	assert.ErrorIs(t, err, glide_errors.ErrNotFound)
	_, err = s.GetMessageByMid(ctx, 1)
	assert.ErrorIs(t, err, glide_errors.ErrNotFound)
}

func TestReopenPersists(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(dir, "1", logger.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.PutSession(ctx, &cache.SessionRecord{ID: "1_2", To: "2", UnreadCount: 1}))
	require.NoError(t, s.AddMessage(ctx, wireMsg("1_2", "a", 1, 1, 1001, "x")))
	require.NoError(t, s.Close())

	s, err = Open(dir, "1", logger.NewNop())
	require.NoError(t, err)
	defer s.Close()

	rec, err := s.GetSession(ctx, "1_2")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.UnreadCount)

	m, err := s.GetMessage(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "x", m.Content)
	assert.Equal(t, int64(1), m.OrderKey())
}
