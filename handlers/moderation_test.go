package handlers

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"moderation-bot/bot"
	"moderation-bot/commands"
	"moderation-bot/moderation"
	"moderation-bot/registry"
	"moderation-bot/tickets"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	guildID  int64 = 1000
	roleID   int64 = 2000
	memberA        = "111111111111111111"
	memberB        = "222222222222222222"
	memberAI int64 = 111111111111111111
)

type call struct {
	op       string
	memberID int64
}

type fakePlatform struct {
	mu    sync.Mutex
	calls []call
	days  []int
}

func (p *fakePlatform) record(op string, memberID int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call{op, memberID})
	return nil
}

func (p *fakePlatform) ops() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.calls))
	for i, c := range p.calls {
		out[i] = c.op
	}
	return out
}

func (p *fakePlatform) GuildExists(context.Context, int64) (bool, error)       { return true, nil }
func (p *fakePlatform) RoleExists(context.Context, int64, int64) (bool, error) { return true, nil }
func (p *fakePlatform) AddRole(_ context.Context, _, m, _ int64, _ string) error {
	return p.record("add_role", m)
}
func (p *fakePlatform) RemoveRole(_ context.Context, _, m, _ int64, _ string) error {
	return p.record("remove_role", m)
}
func (p *fakePlatform) Ban(_ context.Context, _, m int64, days int, _ string) error {
	p.mu.Lock()
	p.days = append(p.days, days)
	p.mu.Unlock()
	return p.record("ban", m)
}
func (p *fakePlatform) Unban(_ context.Context, _, m int64, _ string) error {
	return p.record("unban", m)
}
func (p *fakePlatform) Kick(_ context.Context, _, m int64, _ string) error {
	return p.record("kick", m)
}

type nullPoster struct{}

func (nullPoster) PostModLog(context.Context, int64, *discordgo.MessageEmbed) (int64, error) {
	return 1, nil
}

type fakeResponder struct {
	responses []*discordgo.InteractionResponse
	edits     []string
}

func (r *fakeResponder) InteractionRespond(_ *discordgo.Interaction, resp *discordgo.InteractionResponse, _ ...discordgo.RequestOption) error {
	r.responses = append(r.responses, resp)
	return nil
}

func (r *fakeResponder) InteractionResponseEdit(_ *discordgo.Interaction, edit *discordgo.WebhookEdit, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	r.edits = append(r.edits, *edit.Content)
	return &discordgo.Message{}, nil
}

func (r *fakeResponder) lastEdit(t *testing.T) string {
	t.Helper()
	require.NotEmpty(t, r.edits)
	return r.edits[len(r.edits)-1]
}

type env struct {
	conn     *registry.Conn
	mod      *Moderation
	sched    *moderation.Scheduler
	store    *tickets.Store
	platform *fakePlatform
}

func newEnv(t *testing.T, muteRoles map[int64]int64) *env {
	t.Helper()
	ctx := context.Background()
	conn, err := registry.Open(ctx, registry.Options{
		Backend:    "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "handlers.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	plat := &fakePlatform{}
	reg := registry.New(conn, "test")
	store, sched, err := bot.Features(reg, plat, nullPoster{}, logger)
	require.NoError(t, err)
	require.NoError(t, reg.Ensure(ctx))
	t.Cleanup(sched.Stop)

	moderator := moderation.NewModerator(plat, store, sched, logger)
	return &env{
		conn:     conn,
		mod:      NewModeration(sched, moderator, store, muteRoles, logger),
		sched:    sched,
		store:    store,
		platform: plat,
	}
}

func stringOpt(name, value string) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name:  name,
		Type:  discordgo.ApplicationCommandOptionString,
		Value: value,
	}
}

func intOpt(name string, value int) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name:  name,
		Type:  discordgo.ApplicationCommandOptionInteger,
		Value: float64(value),
	}
}

func command(name string, opts ...*discordgo.ApplicationCommandInteractionDataOption) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Type:    discordgo.InteractionApplicationCommand,
		GuildID: "1000",
		Member:  &discordgo.Member{User: &discordgo.User{ID: "42"}},
		Data: discordgo.ApplicationCommandInteractionData{
			Name:    name,
			Options: opts,
		},
	}}
}

func TestCommandsCoverEveryDefinition(t *testing.T) {
	e := newEnv(t, nil)
	cmds := e.mod.Commands()
	defs := commands.GenerateCommands()
	for _, def := range defs {
		assert.Contains(t, cmds, def.Name)
	}
	assert.Len(t, cmds, len(defs))
}

func TestMuteRequiresConfiguredRole(t *testing.T) {
	e := newEnv(t, nil)
	r := &fakeResponder{}

	e.mod.Commands()["mute"](r, command("mute", stringOpt("members", "<@"+memberA+">"), stringOpt("duration", "1h")))

	require.Len(t, r.responses, 1)
	assert.Equal(t, "❌ No mute role is configured for this server.", r.responses[0].Data.Content)
	assert.Empty(t, e.platform.ops())
	assert.Equal(t, 0, e.sched.Len())
}

func TestMuteRejectsBadInput(t *testing.T) {
	e := newEnv(t, map[int64]int64{guildID: roleID})

	r := &fakeResponder{}
	e.mod.Commands()["mute"](r, command("mute", stringOpt("members", "nobody"), stringOpt("duration", "1h")))
	require.Len(t, r.responses, 1)
	assert.Contains(t, r.responses[0].Data.Content, "No members given")

	r = &fakeResponder{}
	e.mod.Commands()["mute"](r, command("mute", stringOpt("members", memberA), stringOpt("duration", "soon")))
	require.Len(t, r.responses, 1)
	assert.Contains(t, r.responses[0].Data.Content, "Invalid duration")
	assert.Empty(t, e.platform.ops())
}

func TestMuteThenUnmute(t *testing.T) {
	e := newEnv(t, map[int64]int64{guildID: roleID})

	r := &fakeResponder{}
	e.mod.Commands()["mute"](r, command("mute",
		stringOpt("members", "<@"+memberA+"> "+memberB),
		stringOpt("duration", "2h"),
		stringOpt("reason", "spam"),
	))
	require.Len(t, r.responses, 1)
	assert.Equal(t, discordgo.InteractionResponseDeferredChannelMessageWithSource, r.responses[0].Type)
	assert.Contains(t, r.lastEdit(t), "✅ <@"+memberA+">: done.")
	assert.Contains(t, r.lastEdit(t), "✅ <@"+memberB+">: done.")

	g, ok := e.sched.GroupFor(guildID, memberAI)
	require.True(t, ok)
	assert.Equal(t, roleID, g.RoleID)
	assert.Len(t, g.Members(), 2)

	r = &fakeResponder{}
	e.mod.Commands()["unmute"](r, command("unmute", stringOpt("members", memberA)))
	assert.Equal(t, "✅ <@"+memberA+">: done.", r.lastEdit(t))
	_, ok = e.sched.GroupFor(guildID, memberAI)
	assert.False(t, ok)
	assert.Equal(t, []string{"add_role", "add_role", "remove_role"}, e.platform.ops())
}

func TestUnmuteUntrackedMember(t *testing.T) {
	e := newEnv(t, map[int64]int64{guildID: roleID})
	r := &fakeResponder{}

	e.mod.Commands()["unmute"](r, command("unmute", stringOpt("members", memberA)))

	assert.Equal(t, "❌ <@"+memberA+">: member not found.", r.lastEdit(t))
	assert.Empty(t, e.platform.ops())
}

func TestKickAndHistory(t *testing.T) {
	e := newEnv(t, nil)

	r := &fakeResponder{}
	e.mod.Commands()["kick"](r, command("kick", stringOpt("members", memberA), stringOpt("reason", "raiding")))
	assert.Equal(t, "✅ <@"+memberA+">: done.", r.lastEdit(t))
	assert.Equal(t, []string{"kick"}, e.platform.ops())

	r = &fakeResponder{}
	e.mod.Commands()["tickets"](r, command("tickets", &discordgo.ApplicationCommandInteractionDataOption{
		Name:  "user",
		Type:  discordgo.ApplicationCommandOptionUser,
		Value: memberA,
	}))
	out := r.lastEdit(t)
	assert.Contains(t, out, "Tickets for <@"+memberA+">:")
	assert.Contains(t, out, "#1 kick")
	assert.Contains(t, out, "by <@42>: raiding")
}

func TestHistoryWithoutTickets(t *testing.T) {
	assert.Equal(t, []string{"<@7> has no tickets."}, historyLines(7, nil, nil))
	assert.Equal(t, []string{"This server has no tickets."}, historyLines(0, nil, nil))
}

func TestHistoryForGuildMarksPendingActions(t *testing.T) {
	e := newEnv(t, nil)

	r := &fakeResponder{}
	e.mod.Commands()["kick"](r, command("kick", stringOpt("members", memberA), stringOpt("reason", "raiding")))
	r = &fakeResponder{}
	e.mod.Commands()["tempban"](r, command("tempban", stringOpt("members", memberB), stringOpt("duration", "1d"), stringOpt("reason", "spam")))

	r = &fakeResponder{}
	e.mod.Commands()["tickets"](r, command("tickets"))
	out := r.lastEdit(t)
	assert.Contains(t, out, "Tickets for this server:")
	assert.Contains(t, out, "#1 kick")
	assert.NotContains(t, strings.Split(out, "\n")[1], "lifted")
	assert.Contains(t, out, "#2 ban")
	assert.Contains(t, strings.Split(out, "\n")[2], "(lifted <t:")
}

func TestBanDeleteDays(t *testing.T) {
	e := newEnv(t, nil)

	r := &fakeResponder{}
	e.mod.Commands()["ban"](r, command("ban", stringOpt("members", memberA)))
	assert.Equal(t, "✅ <@"+memberA+">: done.", r.lastEdit(t))

	r = &fakeResponder{}
	e.mod.Commands()["ban"](r, command("ban", stringOpt("members", memberB), intOpt("delete_days", 5)))
	assert.Equal(t, "✅ <@"+memberB+">: done.", r.lastEdit(t))

	r = &fakeResponder{}
	e.mod.Commands()["hackban"](r, command("hackban", stringOpt("members", memberA)))

	r = &fakeResponder{}
	e.mod.Commands()["ban"](r, command("ban", stringOpt("members", memberB), intOpt("delete_days", 8)))
	assert.Contains(t, r.lastEdit(t), "❌ delete days must be between 0 and 7")

	e.platform.mu.Lock()
	defer e.platform.mu.Unlock()
	assert.Equal(t, []int{0, 5, 1}, e.platform.days)
}

func TestSoftbanBansThenUnbans(t *testing.T) {
	e := newEnv(t, nil)
	r := &fakeResponder{}

	e.mod.Commands()["softban"](r, command("softban", stringOpt("members", memberA), stringOpt("reason", "spam")))

	assert.Equal(t, "✅ <@"+memberA+">: done.", r.lastEdit(t))
	assert.Equal(t, []string{"ban", "unban"}, e.platform.ops())
	ts, err := e.store.ForMember(context.Background(), guildID, memberAI)
	require.NoError(t, err)
	require.Len(t, ts, 1)
	assert.Equal(t, tickets.Ban, ts[0].Type)
	assert.Equal(t, "Softban: spam", ts[0].Reason)
	assert.Equal(t, []int{1}, e.platform.days)
}

func TestUnbanCancelsTempBan(t *testing.T) {
	e := newEnv(t, nil)

	r := &fakeResponder{}
	e.mod.Commands()["tempban"](r, command("tempban", stringOpt("members", memberA), stringOpt("duration", "1d")))
	_, ok := e.sched.GroupFor(guildID, memberAI)
	require.True(t, ok)

	r = &fakeResponder{}
	e.mod.Commands()["unban"](r, command("unban", stringOpt("members", memberA), stringOpt("reason", "appeal")))

	assert.Equal(t, "✅ <@"+memberA+">: done.", r.lastEdit(t))
	assert.Equal(t, []string{"ban", "unban"}, e.platform.ops())
	_, ok = e.sched.GroupFor(guildID, memberAI)
	assert.False(t, ok)
	ts, err := e.store.ForMember(context.Background(), guildID, memberAI)
	require.NoError(t, err)
	assert.Len(t, ts, 1)
}

func TestTempBanReportsRecordingFailure(t *testing.T) {
	e := newEnv(t, nil)
	_, err := e.conn.DB.Exec(`CREATE TRIGGER reject_groups BEFORE INSERT ON timed_action_groups
		BEGIN SELECT RAISE(ABORT, 'disk full'); END`)
	require.NoError(t, err)

	r := &fakeResponder{}
	e.mod.Commands()["tempban"](r, command("tempban", stringOpt("members", memberA), stringOpt("duration", "1d")))

	out := r.lastEdit(t)
	assert.Contains(t, out, "❌ <@"+memberA+">:")
	assert.Contains(t, out, "action undone")
	assert.Contains(t, out, "disk full")
	assert.Equal(t, []string{"ban", "unban"}, e.platform.ops())
	assert.Equal(t, 0, e.sched.Len())
	ts, err := e.store.ForGuild(context.Background(), guildID)
	require.NoError(t, err)
	assert.Empty(t, ts)
}

func TestDeleteTicket(t *testing.T) {
	e := newEnv(t, nil)

	r := &fakeResponder{}
	e.mod.Commands()["kick"](r, command("kick", stringOpt("members", memberA)))
	r = &fakeResponder{}
	e.mod.Commands()["tempban"](r, command("tempban", stringOpt("members", memberB), stringOpt("duration", "1d")))

	r = &fakeResponder{}
	e.mod.Commands()["delete-ticket"](r, command("delete-ticket", intOpt("ticket", 2)))
	assert.Equal(t, "❌ Ticket #2 still has a pending timed action. Lift it first.", r.lastEdit(t))

	r = &fakeResponder{}
	e.mod.Commands()["delete-ticket"](r, command("delete-ticket", intOpt("ticket", 1)))
	assert.Equal(t, "✅ Ticket #1 deleted.", r.lastEdit(t))

	r = &fakeResponder{}
	e.mod.Commands()["delete-ticket"](r, command("delete-ticket", intOpt("ticket", 1)))
	assert.Equal(t, "❌ Ticket #1 does not exist in this server.", r.lastEdit(t))

	ts, err := e.store.ForGuild(context.Background(), guildID)
	require.NoError(t, err)
	require.Len(t, ts, 1)
	assert.Equal(t, int64(2), ts[0].ID)
}

func TestCommandOutsideGuild(t *testing.T) {
	e := newEnv(t, nil)
	i := command("kick", stringOpt("members", memberA))
	i.GuildID = ""
	r := &fakeResponder{}

	e.mod.Commands()["kick"](r, i)

	require.Len(t, r.responses, 1)
	assert.Equal(t, "❌ this command can only be used in a server", r.responses[0].Data.Content)
	assert.Empty(t, e.platform.ops())
}
