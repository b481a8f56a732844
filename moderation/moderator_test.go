package moderation

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"moderation-bot/tickets"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchKeepsOrderAndIsolatesFailures(t *testing.T) {
	boom := errors.New("boom")
	var running, peak atomic.Int32
	outcomes := dispatch(context.Background(), []int64{1, 2, 3, 4}, func(_ context.Context, id int64) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		switch id {
		case 2:
			return ErrPermissionDenied
		case 3:
			panic("bad member")
		case 4:
			return boom
		}
		return nil
	})

	require.Len(t, outcomes, 4)
	for i, id := range []int64{1, 2, 3, 4} {
		assert.Equal(t, id, outcomes[i].MemberID)
	}
	assert.Equal(t, Success, outcomes[0].State)
	assert.Equal(t, PermissionDenied, outcomes[1].State)
	assert.Equal(t, Failed, outcomes[2].State)
	assert.Contains(t, outcomes[2].Err.Error(), "bad member")
	assert.Equal(t, Failed, outcomes[3].State)
	assert.ErrorIs(t, outcomes[3].Err, boom)
	assert.Greater(t, peak.Load(), int32(1))
	assert.Equal(t, []int64{1}, Succeeded(outcomes))
}

func TestOutcomeLine(t *testing.T) {
	assert.Equal(t, "✅ <@5>: done.", Outcome{MemberID: 5}.Line())
	assert.Equal(t, "❌ <@5>: member not found.", Outcome{MemberID: 5, State: NotFound}.Line())
	assert.Contains(t, Outcome{MemberID: 5, State: Failed, Err: errors.New("boom")}.Line(), "boom")
}

func TestStateOf(t *testing.T) {
	assert.Equal(t, Success, StateOf(nil))
	assert.Equal(t, NotFound, StateOf(errors.Join(errors.New("x"), ErrNotFound)))
	assert.Equal(t, PermissionDenied, StateOf(ErrPermissionDenied))
	assert.Equal(t, Failed, StateOf(errors.New("x")))
}

func TestActKicksAndPostsTicket(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.platform.set(func(p *fakePlatform) { p.memberErr[2] = ErrNotFound })
	mod := NewModerator(h.platform, h.store, h.sched, quietLogger())

	res, err := mod.Act(ctx, Request{GuildID: guildID, ModeratorID: 99, MemberIDs: []int64{1, 2}, Reason: "raid", Type: tickets.Kick})
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{1, 2}, h.platform.members("kick"))
	require.NotNil(t, res.Ticket)
	assert.Equal(t, []int64{1}, res.Ticket.MemberIDs)
	assert.Equal(t, tickets.PostDelivered, res.Post)
	assert.Equal(t, 1, h.poster.count())
	assert.Equal(t, NotFound, res.Outcomes[1].State)
}

func TestActNoteTouchesNothing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	mod := NewModerator(h.platform, h.store, nil, quietLogger())

	res, err := mod.Act(ctx, Request{GuildID: guildID, MemberIDs: []int64{1}, Reason: "watch", Type: tickets.Note})
	require.NoError(t, err)
	assert.Equal(t, tickets.Note, res.Ticket.Type)
	h.platform.mu.Lock()
	assert.Empty(t, h.platform.calls)
	h.platform.mu.Unlock()
}

func TestActRejectsTimedTypes(t *testing.T) {
	h := newHarness(t)
	mod := NewModerator(h.platform, h.store, nil, quietLogger())
	_, err := mod.Act(context.Background(), Request{GuildID: guildID, MemberIDs: []int64{1}, Type: tickets.Mute})
	assert.ErrorIs(t, err, ErrUnsupportedAction)
}

func TestPermanentBanDetachesTempBan(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	mod := NewModerator(h.platform, h.store, h.sched, quietLogger())

	res, err := h.sched.NewTimedAction(ctx, TimedRequest{GuildID: guildID, MemberIDs: []int64{1, 2}, Duration: time.Hour, Type: tickets.Ban})
	require.NoError(t, err)

	_, err = mod.Act(ctx, Request{GuildID: guildID, MemberIDs: []int64{1}, Type: tickets.Ban})
	require.NoError(t, err)
	_, ok := h.sched.GroupFor(guildID, 1)
	assert.False(t, ok)
	assert.Equal(t, []int64{2}, res.Group.Members())
}

func TestBanPassesDeleteDays(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	mod := NewModerator(h.platform, h.store, h.sched, quietLogger())

	_, err := mod.Act(ctx, Request{GuildID: guildID, MemberIDs: []int64{1}, Type: tickets.Ban, DeleteDays: 3})
	require.NoError(t, err)
	_, err = mod.Act(ctx, Request{GuildID: guildID, MemberIDs: []int64{2}, Type: tickets.Hackban, DeleteDays: 7})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 7}, h.platform.deleteDays)

	_, err = mod.Act(ctx, Request{GuildID: guildID, MemberIDs: []int64{3}, Type: tickets.Ban, DeleteDays: 8})
	assert.ErrorIs(t, err, ErrDeleteDays)
	_, err = mod.Act(ctx, Request{GuildID: guildID, MemberIDs: []int64{3}, Type: tickets.Ban, DeleteDays: -1})
	assert.ErrorIs(t, err, ErrDeleteDays)
	assert.Len(t, h.platform.members("ban"), 2)
}

func TestSoftbanBansThenUnbans(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	mod := NewModerator(h.platform, h.store, h.sched, quietLogger())

	res, err := mod.Act(ctx, Request{GuildID: guildID, ModeratorID: 99, MemberIDs: []int64{1}, Reason: "spam", Type: tickets.Ban, Soft: true, DeleteDays: 1})
	require.NoError(t, err)
	assert.Equal(t, Success, res.Outcomes[0].State)
	assert.Equal(t, []int64{1}, h.platform.members("ban"))
	assert.Equal(t, []int64{1}, h.platform.members("unban"))
	assert.Equal(t, []int{1}, h.platform.deleteDays)

	require.NotNil(t, res.Ticket)
	assert.Equal(t, tickets.Ban, res.Ticket.Type)
	assert.Equal(t, "Softban: spam", res.Ticket.Reason)

	res, err = mod.Act(ctx, Request{GuildID: guildID, MemberIDs: []int64{2}, Type: tickets.Ban, Soft: true})
	require.NoError(t, err)
	assert.Equal(t, "Softban", res.Ticket.Reason)

	_, err = mod.Act(ctx, Request{GuildID: guildID, MemberIDs: []int64{1}, Type: tickets.Kick, Soft: true})
	assert.ErrorIs(t, err, ErrUnsupportedAction)
}

func TestSoftbanLeftBannedIsFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	mod := NewModerator(h.platform, h.store, nil, quietLogger())
	h.platform.set(func(p *fakePlatform) { p.opErr["unban"] = ErrPermissionDenied })

	res, err := mod.Act(ctx, Request{GuildID: guildID, MemberIDs: []int64{1}, Type: tickets.Ban, Soft: true})
	require.NoError(t, err)
	assert.Equal(t, Failed, res.Outcomes[0].State)
	assert.Contains(t, res.Outcomes[0].Line(), "banned but not unbanned")
	assert.Nil(t, res.Ticket)
}

func TestUnbanDetachesTempBanWithoutTicket(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	mod := NewModerator(h.platform, h.store, h.sched, quietLogger())

	res, err := h.sched.NewTimedAction(ctx, TimedRequest{GuildID: guildID, MemberIDs: []int64{1, 2}, Duration: time.Hour, Type: tickets.Ban})
	require.NoError(t, err)
	h.platform.set(func(p *fakePlatform) { p.memberErr[3] = ErrNotFound })

	outcomes, err := mod.Unban(ctx, guildID, 99, []int64{1, 3}, "appeal")
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	assert.Equal(t, Success, outcomes[0].State)
	assert.Equal(t, NotFound, outcomes[1].State)

	_, ok := h.sched.GroupFor(guildID, 1)
	assert.False(t, ok)
	assert.Equal(t, []int64{2}, res.Group.Members())
	assert.ElementsMatch(t, []int64{2}, h.storedMembers(t, res.Group.ID))

	all, err := h.store.ForGuild(ctx, guildID)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = mod.Unban(ctx, guildID, 99, nil, "")
	assert.ErrorIs(t, err, ErrNoMembers)
}
