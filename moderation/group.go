package moderation

import (
	"context"
	"fmt"
	"slices"
	"time"

	"moderation-bot/registry"

	"github.com/jmoiron/sqlx"
)

// GroupState is the lifecycle state of a timed action group.
type GroupState int

const (
	Pending GroupState = iota
	PartiallyReleased
	Reversed
	Cancelled
)

func (s GroupState) String() string {
	switch s {
	case Pending:
		return "pending"
	case PartiallyReleased:
		return "partially released"
	case Reversed:
		return "reversed"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether the group can no longer change.
func (s GroupState) Terminal() bool { return s == Reversed || s == Cancelled }

// Group is a set of members sharing one scheduled reversal. Its identity
// fields are fixed at construction; membership and state are guarded by the
// owning scheduler's lock.
type Group struct {
	ID          int64
	TicketID    int64
	GuildID     int64
	RoleID      int64
	ModeratorID int64
	ExpiresAt   time.Time
	Duration    time.Duration

	action Action
	s      *Scheduler

	members  []int64
	state    GroupState
	loaded   bool
	unloaded bool
	cancel   context.CancelFunc
}

// Action returns the action reversed when the group expires.
func (g *Group) Action() Action { return g.action }

func (g *Group) target() Target {
	return Target{GuildID: g.GuildID, RoleID: g.RoleID}
}

// Members returns a copy of the current membership.
func (g *Group) Members() []int64 {
	g.s.mu.Lock()
	defer g.s.mu.Unlock()
	return slices.Clone(g.members)
}

// State returns the current lifecycle state.
func (g *Group) State() GroupState {
	g.s.mu.Lock()
	defer g.s.mu.Unlock()
	return g.state
}

// Write persists the group and its membership, replacing any stored group
// with the same id.
func (g *Group) Write(ctx context.Context) error {
	g.s.mu.Lock()
	defer g.s.mu.Unlock()
	return g.writeLocked(ctx)
}

func (g *Group) writeLocked(ctx context.Context) error {
	err := g.s.reg.Transact(ctx, func(tx *sqlx.Tx) error {
		return g.writeTx(ctx, tx)
	})
	if err != nil {
		return fmt.Errorf("failed to write group %d: %w", g.ID, err)
	}
	return nil
}

// writeTx replaces the stored group and its membership inside tx.
func (g *Group) writeTx(ctx context.Context, tx *sqlx.Tx) error {
	s := g.s
	groups := s.groupTable.With(tx)
	if _, err := groups.DeleteWhere(ctx, registry.Filters{"group_id": g.ID}); err != nil {
		return err
	}
	if _, err := groups.Insert(ctx, registry.Values{
		"group_id":         g.ID,
		"ticket_id":        g.TicketID,
		"role_id":          g.RoleID,
		"unmute_timestamp": g.ExpiresAt.Unix(),
		"moderator_id":     g.ModeratorID,
		"duration":         int64(g.Duration / time.Second),
	}); err != nil {
		return err
	}
	rows := make([][]any, len(g.members))
	for i, m := range g.members {
		rows[i] = []any{g.ID, m}
	}
	return s.memberTable.With(tx).InsertMany(ctx, []string{"group_id", "member_id"}, rows...)
}

// Load registers the group in the scheduler's indices, evicting its members
// from any group they belonged to in the same guild, and arms its reversal
// timer. It returns the group for chaining.
func (g *Group) Load(ctx context.Context) *Group {
	g.s.mu.Lock()
	defer g.s.mu.Unlock()
	g.loadLocked(ctx)
	return g
}

func (g *Group) loadLocked(ctx context.Context) {
	s := g.s
	if g.loaded || g.unloaded {
		return
	}
	if s.stopped {
		g.state = Cancelled
		return
	}
	g.loaded = true
	s.groups[g.ID] = g
	if g.ID > s.lastID {
		s.lastID = g.ID
	}

	members := s.guilds[g.GuildID]
	if members == nil {
		members = make(map[int64]*Group)
		s.guilds[g.GuildID] = members
	}
	for _, m := range g.members {
		if prior := members[m]; prior != nil && prior != g {
			if err := prior.removeLocked(ctx, m); err != nil {
				s.logger.Error("failed to evict member from prior group",
					"group_id", prior.ID, "new_group_id", g.ID, "member_id", m, "error", err)
			}
		}
		members[m] = g
	}
	s.arm(g)
}

// Unload cancels the reversal timer, drops the group from the scheduler's
// indices and deletes its stored rows. Repeated calls are no-ops.
func (g *Group) Unload(ctx context.Context) error {
	g.s.mu.Lock()
	defer g.s.mu.Unlock()
	return g.unloadLocked(ctx)
}

func (g *Group) unloadLocked(ctx context.Context) error {
	s := g.s
	if g.unloaded {
		return nil
	}
	g.unloaded = true
	if g.cancel != nil {
		g.cancel()
	}
	if !g.state.Terminal() {
		g.state = Cancelled
	}
	g.dropLocked()

	if _, err := s.groupTable.DeleteWhere(ctx, registry.Filters{"group_id": g.ID}); err != nil {
		return fmt.Errorf("failed to delete group %d: %w", g.ID, err)
	}
	s.logger.Debug("group unloaded", "group_id", g.ID, "state", g.state.String())
	return nil
}

// dropLocked removes the group from both indices without touching storage.
func (g *Group) dropLocked() {
	s := g.s
	if members := s.guilds[g.GuildID]; members != nil {
		for _, m := range g.members {
			if members[m] == g {
				delete(members, m)
			}
		}
		if len(members) == 0 {
			delete(s.guilds, g.GuildID)
		}
	}
	if s.groups[g.ID] == g {
		delete(s.groups, g.ID)
	}
}

// Remove detaches members from the group. The group unloads once it has no
// members left.
func (g *Group) Remove(ctx context.Context, memberIDs ...int64) error {
	g.s.mu.Lock()
	defer g.s.mu.Unlock()
	return g.removeLocked(ctx, memberIDs...)
}

func (g *Group) removeLocked(ctx context.Context, memberIDs ...int64) error {
	s := g.s
	if g.unloaded || len(memberIDs) == 0 {
		return nil
	}
	g.members = slices.DeleteFunc(g.members, func(m int64) bool {
		return slices.Contains(memberIDs, m)
	})
	if members := s.guilds[g.GuildID]; members != nil {
		for _, m := range memberIDs {
			if members[m] == g {
				delete(members, m)
			}
		}
	}

	if _, err := s.memberTable.DeleteWhere(ctx, registry.Filters{"group_id": g.ID, "member_id": memberIDs}); err != nil {
		return fmt.Errorf("failed to remove members from group %d: %w", g.ID, err)
	}
	if len(g.members) == 0 {
		return g.unloadLocked(ctx)
	}
	if g.state == Pending {
		g.state = PartiallyReleased
	}
	return nil
}
