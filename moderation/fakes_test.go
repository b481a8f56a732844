package moderation

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"moderation-bot/registry"
	"moderation-bot/tickets"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/require"
)

type call struct {
	op       string
	guildID  int64
	memberID int64
	roleID   int64
}

type fakePlatform struct {
	mu         sync.Mutex
	goneGuilds map[int64]bool
	goneRoles  map[int64]bool
	lookupErr  map[int64]error
	memberErr  map[int64]error
	opErr      map[string]error
	panicOn    map[int64]bool
	calls      []call
	deleteDays []int
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		goneGuilds: make(map[int64]bool),
		goneRoles:  make(map[int64]bool),
		lookupErr:  make(map[int64]error),
		memberErr:  make(map[int64]error),
		opErr:      make(map[string]error),
		panicOn:    make(map[int64]bool),
	}
}

func (p *fakePlatform) GuildExists(_ context.Context, guildID int64) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.lookupErr[guildID]; err != nil {
		return false, err
	}
	return !p.goneGuilds[guildID], nil
}

func (p *fakePlatform) RoleExists(_ context.Context, _, roleID int64) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.goneRoles[roleID], nil
}

func (p *fakePlatform) do(op string, guildID, memberID, roleID int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.panicOn[memberID] {
		panic(fmt.Sprintf("%s exploded for %d", op, memberID))
	}
	p.calls = append(p.calls, call{op: op, guildID: guildID, memberID: memberID, roleID: roleID})
	if err := p.opErr[op]; err != nil {
		return err
	}
	return p.memberErr[memberID]
}

func (p *fakePlatform) AddRole(_ context.Context, guildID, memberID, roleID int64, _ string) error {
	return p.do("add_role", guildID, memberID, roleID)
}

func (p *fakePlatform) RemoveRole(_ context.Context, guildID, memberID, roleID int64, _ string) error {
	return p.do("remove_role", guildID, memberID, roleID)
}

func (p *fakePlatform) Ban(_ context.Context, guildID, memberID int64, deleteDays int, _ string) error {
	p.mu.Lock()
	p.deleteDays = append(p.deleteDays, deleteDays)
	p.mu.Unlock()
	return p.do("ban", guildID, memberID, 0)
}

func (p *fakePlatform) Unban(_ context.Context, guildID, memberID int64, _ string) error {
	return p.do("unban", guildID, memberID, 0)
}

func (p *fakePlatform) Kick(_ context.Context, guildID, memberID int64, _ string) error {
	return p.do("kick", guildID, memberID, 0)
}

func (p *fakePlatform) set(f func(p *fakePlatform)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f(p)
}

// members returns the members an operation was attempted on, in call order.
func (p *fakePlatform) members(op string) []int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	var ids []int64
	for _, c := range p.calls {
		if c.op == op {
			ids = append(ids, c.memberID)
		}
	}
	return ids
}

type fakePoster struct {
	mu     sync.Mutex
	embeds []*discordgo.MessageEmbed
	err    error
}

func (p *fakePoster) PostModLog(_ context.Context, _ int64, embed *discordgo.MessageEmbed) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return 0, p.err
	}
	p.embeds = append(p.embeds, embed)
	return int64(len(p.embeds)), nil
}

func (p *fakePoster) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.embeds)
}

type harness struct {
	conn     *registry.Conn
	reg      *registry.Registry
	store    *tickets.Store
	sched    *Scheduler
	platform *fakePlatform
	poster   *fakePoster
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	conn, err := registry.Open(context.Background(), registry.Options{
		Backend:    "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "moderation.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return attach(t, conn, newFakePlatform())
}

// attach builds a fresh registry, store and scheduler over conn, as a
// restarted process would.
func attach(t *testing.T, conn *registry.Conn, platform *fakePlatform) *harness {
	t.Helper()
	h := &harness{conn: conn, platform: platform, poster: &fakePoster{}}
	h.reg = registry.New(conn, "test")
	kinds, err := tickets.DefaultKinds()
	require.NoError(t, err)
	h.store, err = tickets.NewStore(h.reg, kinds, h.poster, quietLogger())
	require.NoError(t, err)
	h.sched, err = NewScheduler(h.reg, h.store, platform, quietLogger())
	require.NoError(t, err)
	require.NoError(t, h.reg.Ensure(context.Background()))
	t.Cleanup(h.sched.Stop)
	return h
}

// group creates, writes and optionally loads a mute group expiring at expires.
func (h *harness) group(t *testing.T, guildID, roleID int64, members []int64, expires time.Time, load bool) *Group {
	t.Helper()
	ctx := context.Background()
	ticket, _, err := h.store.Create(ctx, tickets.NewTicket{
		GuildID: guildID, ModeratorID: 99, MemberIDs: members, Type: tickets.Mute,
	}, false)
	require.NoError(t, err)

	h.sched.mu.Lock()
	id := h.sched.nextIDLocked()
	h.sched.mu.Unlock()

	g := h.sched.NewGroup(id, ticket.ID, MuteAction{}, Target{GuildID: guildID, RoleID: roleID}, 99, members, expires, time.Hour)
	require.NoError(t, g.Write(ctx))
	if load {
		g.Load(ctx)
	}
	return g
}

func (h *harness) stored(t *testing.T, groupID int64) bool {
	t.Helper()
	rows, err := registry.Collect(h.sched.groupTable.SelectWhere(context.Background(), registry.Filters{"group_id": groupID}))
	require.NoError(t, err)
	return len(rows) > 0
}

func (h *harness) storedMembers(t *testing.T, groupID int64) []int64 {
	t.Helper()
	rows, err := registry.Collect(registry.Scan[memberRecord](context.Background(), h.sched.memberTable, registry.Filters{"group_id": groupID}))
	require.NoError(t, err)
	var ids []int64
	for _, r := range rows {
		ids = append(ids, r.MemberID)
	}
	return ids
}

// requireAgreement checks that the cache and the store agree on a group.
func (h *harness) requireAgreement(t *testing.T, groupID int64, live bool) {
	t.Helper()
	_, cached := h.sched.Group(groupID)
	require.Equal(t, live, cached, "cache")
	require.Equal(t, live, h.stored(t, groupID), "store")
}
