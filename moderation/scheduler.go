package moderation

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"moderation-bot/registry"
	"moderation-bot/tickets"

	"github.com/jmoiron/sqlx"
)

var (
	ErrUnsupportedAction = errors.New("unsupported moderation action")
	ErrNoMembers         = errors.New("no members given")
	ErrStopped           = errors.New("scheduler stopped")
	ErrNotTracked        = errors.New("member is not in a timed action group")
)

const failureBuffer = 64

// ReversalError reports a scheduled reversal that did not complete for every
// member. The affected members still carry the action on the platform.
type ReversalError struct {
	GroupID int64
	GuildID int64
	Failed  []Outcome
}

func (e *ReversalError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "reversal of group %d in guild %d failed for %d member(s)", e.GroupID, e.GuildID, len(e.Failed))
	for _, o := range e.Failed {
		fmt.Fprintf(&b, "; %d: %s", o.MemberID, o.State)
		if o.Err != nil {
			fmt.Fprintf(&b, ": %v", o.Err)
		}
	}
	return b.String()
}

func (e *ReversalError) Unwrap() []error {
	var errs []error
	for _, o := range e.Failed {
		if o.Err != nil {
			errs = append(errs, o.Err)
		}
	}
	return errs
}

// Scheduler owns every live timed action group of one app. The group index
// and the per-guild member index are guarded by mu; stored rows are written
// under the same lock before the indices change.
type Scheduler struct {
	reg         *registry.Registry
	tickets     *tickets.Store
	platform    Platform
	logger      *slog.Logger
	actions     map[tickets.Type]Action
	groupTable  *registry.Table
	memberTable *registry.Table
	view        *registry.ViewHandle
	now         func() time.Time

	mu      sync.Mutex
	groups  map[int64]*Group
	guilds  map[int64]map[int64]*Group
	lastID  int64
	stopped bool

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	failures chan error
	stopOnce sync.Once
}

// NewScheduler registers the group tables and view on reg. Tickets must have
// been registered on the same registry first. With no actions given the
// default mute and temporary ban actions are used.
func NewScheduler(reg *registry.Registry, store *tickets.Store, platform Platform, logger *slog.Logger, actions ...Action) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(actions) == 0 {
		actions = DefaultActions()
	}
	s := &Scheduler{
		reg:      reg,
		tickets:  store,
		platform: platform,
		logger:   logger.With("component", "scheduler"),
		actions:  make(map[tickets.Type]Action, len(actions)),
		now:      time.Now,
		groups:   make(map[int64]*Group),
		guilds:   make(map[int64]map[int64]*Group),
		failures: make(chan error, failureBuffer),
	}
	for _, a := range actions {
		if _, dup := s.actions[a.Type()]; dup {
			return nil, fmt.Errorf("timed action for %s registered twice", a.Type())
		}
		s.actions[a.Type()] = a
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	var err error
	if s.groupTable, err = reg.Register(groupSchema); err != nil {
		return nil, err
	}
	if s.memberTable, err = reg.Register(groupMemberSchema); err != nil {
		return nil, err
	}
	if s.view, err = reg.RegisterView(groupTicketView); err != nil {
		return nil, err
	}
	return s, nil
}

// Pending reads the stored timed actions of a guild through the
// ticket-with-group view, keyed by ticket id.
func (s *Scheduler) Pending(ctx context.Context, guildID int64) (map[int64]*tickets.TimedDetails, error) {
	rows, err := registry.Collect(registry.Scan[GroupTicket](ctx, s.view, registry.Filters{"guild_id": guildID}))
	if err != nil {
		return nil, fmt.Errorf("failed to load pending timed actions in guild %d: %w", guildID, err)
	}
	out := make(map[int64]*tickets.TimedDetails, len(rows))
	for _, r := range rows {
		out[r.TicketID] = r.Ticket(nil).Timed
	}
	return out, nil
}

// Failures delivers a *ReversalError for every scheduled reversal that did
// not complete. The channel is closed by Stop.
func (s *Scheduler) Failures() <-chan error { return s.failures }

// Group returns a live group by id.
func (s *Scheduler) Group(groupID int64) (*Group, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupID]
	return g, ok
}

// GroupFor returns the live group tracking a member of a guild.
func (s *Scheduler) GroupFor(guildID, memberID int64) (*Group, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.guilds[guildID][memberID]
	return g, ok
}

// Len returns the number of live groups.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.groups)
}

// NewGroup builds an unloaded group owned by the scheduler. Call Write and
// Load to make it live.
func (s *Scheduler) NewGroup(groupID, ticketID int64, action Action, t Target, moderatorID int64, members []int64, expiresAt time.Time, duration time.Duration) *Group {
	return &Group{
		ID:          groupID,
		TicketID:    ticketID,
		GuildID:     t.GuildID,
		RoleID:      t.RoleID,
		ModeratorID: moderatorID,
		ExpiresAt:   expiresAt,
		Duration:    duration,
		action:      action,
		s:           s,
		members:     dedupe(members),
	}
}

// nextIDLocked allocates a group id. Ids are millisecond timestamps bumped
// past every id seen so far.
func (s *Scheduler) nextIDLocked() int64 {
	id := s.now().UnixMilli()
	if id <= s.lastID {
		id = s.lastID + 1
	}
	s.lastID = id
	return id
}

// arm starts the reversal goroutine of a group. Called with mu held.
func (s *Scheduler) arm(g *Group) {
	ctx, cancel := context.WithCancel(s.ctx)
	g.cancel = cancel
	delay := max(g.ExpiresAt.Sub(s.now()), 0)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		s.fire(ctx, g)
	}()
}

// fire reverses the action for every remaining member and unloads the group.
func (s *Scheduler) fire(ctx context.Context, g *Group) {
	s.mu.Lock()
	if g.unloaded {
		s.mu.Unlock()
		return
	}
	members := slices.Clone(g.members)
	s.mu.Unlock()

	s.logger.Info("reversing timed action", "group_id", g.ID, "guild_id", g.GuildID, "members", len(members))
	outcomes := dispatch(ctx, members, func(ctx context.Context, m int64) error {
		// Members evicted to a newer group since the snapshot are left alone.
		if cur, ok := s.GroupFor(g.GuildID, m); !ok || cur != g {
			return nil
		}
		return g.action.Reverse(ctx, s.platform, g.target(), m, "Automatic timed reversal.")
	})
	if ctx.Err() != nil {
		// Stopped or unloaded mid-reversal. Rows that remain are recovered at next launch.
		return
	}

	var failed []Outcome
	for _, o := range outcomes {
		if o.State == Failed || o.State == PermissionDenied {
			failed = append(failed, o)
		}
	}
	if len(failed) > 0 {
		err := &ReversalError{GroupID: g.ID, GuildID: g.GuildID, Failed: failed}
		s.logger.Error("timed reversal failed", "group_id", g.ID, "guild_id", g.GuildID, "error", err)
		s.report(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !g.unloaded {
		g.state = Reversed
	}
	if err := g.unloadLocked(context.WithoutCancel(ctx)); err != nil {
		s.logger.Error("failed to unload reversed group", "group_id", g.ID, "error", err)
	}
}

func (s *Scheduler) report(err error) {
	select {
	case s.failures <- err:
	default:
		s.logger.Warn("failure channel full, dropping report", "error", err)
	}
}

// TimedRequest describes a new timed action.
type TimedRequest struct {
	GuildID     int64
	RoleID      int64
	ModeratorID int64
	MemberIDs   []int64
	Duration    time.Duration
	Reason      string
	Type        tickets.Type
}

// Result is what a moderation command reports back to the moderator.
type Result struct {
	Outcomes []Outcome
	Ticket   *tickets.Ticket
	Group    *Group
	Post     tickets.PostStatus
	PostErr  error
}

// Lines renders one line per member, plus a notice when the log post failed.
func (r *Result) Lines() []string {
	lines := make([]string, 0, len(r.Outcomes)+1)
	for _, o := range r.Outcomes {
		lines = append(lines, o.Line())
	}
	if r.Post == tickets.PostFailed {
		lines = append(lines, fmt.Sprintf("⚠️ Ticket #%d was recorded but could not be posted to the moderation log.", r.Ticket.ID))
	}
	return lines
}

// NewTimedAction applies an action to every member and schedules its
// reversal. When at least one member succeeds a ticket and a group are
// created; the ticket is posted once the group is live.
func (s *Scheduler) NewTimedAction(ctx context.Context, req TimedRequest) (*Result, error) {
	action, ok := s.actions[req.Type]
	if !ok {
		return nil, fmt.Errorf("%w: timed %s", ErrUnsupportedAction, req.Type)
	}
	members := dedupe(req.MemberIDs)
	if len(members) == 0 {
		return nil, ErrNoMembers
	}
	if req.Duration < 0 {
		return nil, fmt.Errorf("negative duration %s", req.Duration)
	}
	if s.isStopped() {
		return nil, ErrStopped
	}

	target := Target{GuildID: req.GuildID, RoleID: req.RoleID}
	audit := auditReason(req.ModeratorID, req.Reason)
	res := &Result{
		Outcomes: dispatch(ctx, members, func(ctx context.Context, m int64) error {
			return action.Apply(ctx, s.platform, target, m, audit)
		}),
	}
	applied := Succeeded(res.Outcomes)
	if len(applied) == 0 {
		return res, nil
	}

	expires := ceilSecond(s.now().Add(req.Duration))
	duration := req.Duration.Round(time.Second)

	s.mu.Lock()
	groupID := s.nextIDLocked()
	var g *Group
	err := s.reg.Transact(ctx, func(tx *sqlx.Tx) error {
		ticket, err := s.tickets.CreateTx(ctx, tx, tickets.NewTicket{
			GuildID:     req.GuildID,
			ModeratorID: req.ModeratorID,
			MemberIDs:   applied,
			Reason:      req.Reason,
			Type:        req.Type,
			Timed: &tickets.TimedDetails{
				GroupID:   groupID,
				RoleID:    req.RoleID,
				Duration:  duration,
				ExpiresAt: expires,
			},
		})
		if err != nil {
			return err
		}
		res.Ticket = ticket
		g = s.NewGroup(groupID, ticket.ID, action, target, req.ModeratorID, applied, expires, duration)
		if err := g.writeTx(ctx, tx); err != nil {
			return fmt.Errorf("failed to write group %d: %w", groupID, err)
		}
		return nil
	})
	if err != nil {
		s.mu.Unlock()
		res.Ticket = nil
		s.undo(ctx, action, target, req.ModeratorID, res, err)
		return res, err
	}
	g.loadLocked(ctx)
	s.mu.Unlock()
	ticket := res.Ticket
	res.Group = g
	s.logger.Info("timed action scheduled", "group_id", g.ID, "ticket_id", ticket.ID, "guild_id", req.GuildID,
		"type", req.Type.String(), "members", len(applied), "expires_at", expires)

	if err := s.tickets.Post(ctx, ticket); err != nil {
		s.logger.Warn("timed action ticket not posted", "ticket_id", ticket.ID, "group_id", g.ID, "error", err)
		res.Post, res.PostErr = tickets.PostFailed, err
	} else {
		res.Post = tickets.PostDelivered
	}
	return res, nil
}

// undo reverses the members a timed action was applied to when it could not
// be recorded, so nobody is left without a scheduled reversal. Their outcomes
// are rewritten to report the failure.
func (s *Scheduler) undo(ctx context.Context, action Action, target Target, moderatorID int64, res *Result, cause error) {
	applied := Succeeded(res.Outcomes)
	audit := auditReason(moderatorID, "timed action could not be recorded")
	reverted := dispatch(context.WithoutCancel(ctx), applied, func(ctx context.Context, m int64) error {
		return action.Reverse(ctx, s.platform, target, m, audit)
	})
	undone := make(map[int64]Outcome, len(reverted))
	for _, o := range reverted {
		undone[o.MemberID] = o
	}
	for i, o := range res.Outcomes {
		r, ok := undone[o.MemberID]
		if !ok {
			continue
		}
		if r.State == Success {
			res.Outcomes[i].State, res.Outcomes[i].Err = Failed, fmt.Errorf("action undone, it could not be recorded: %w", cause)
			continue
		}
		res.Outcomes[i].State, res.Outcomes[i].Err = Failed, fmt.Errorf("not recorded and could not be undone: %w", errors.Join(cause, r.Err))
	}
	s.logger.Error("timed action not recorded, reversed applied members", "guild_id", target.GuildID,
		"members", len(applied), "undone", len(Succeeded(reverted)), "error", cause)
}

// Release reverses the action for members ahead of schedule and detaches them
// from their groups. Members not tracked by any group report NotFound.
func (s *Scheduler) Release(ctx context.Context, guildID int64, memberIDs []int64, reason string) []Outcome {
	members := dedupe(memberIDs)
	tracked := make(map[int64]*Group, len(members))
	s.mu.Lock()
	for _, m := range members {
		if g := s.guilds[guildID][m]; g != nil {
			tracked[m] = g
		}
	}
	s.mu.Unlock()

	outcomes := dispatch(ctx, members, func(ctx context.Context, m int64) error {
		g := tracked[m]
		if g == nil {
			return fmt.Errorf("%w: %w", ErrNotFound, ErrNotTracked)
		}
		return g.action.Reverse(ctx, s.platform, g.target(), m, reason)
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, o := range outcomes {
		g := tracked[o.MemberID]
		// A member who already left keeps nothing to reverse.
		if g == nil || (o.State != Success && !errors.Is(o.Err, ErrNotFound)) {
			continue
		}
		if s.guilds[guildID][o.MemberID] != g {
			continue
		}
		if err := g.removeLocked(ctx, o.MemberID); err != nil {
			s.logger.Error("failed to detach released member", "group_id", g.ID, "member_id", o.MemberID, "error", err)
			outcomes[i].State, outcomes[i].Err = Failed, err
		}
	}
	return outcomes
}

// forget detaches members from their groups without reversing anything.
func (s *Scheduler) forget(ctx context.Context, guildID int64, memberIDs []int64, only tickets.Type) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range memberIDs {
		g := s.guilds[guildID][m]
		if g == nil || g.action.Type() != only {
			continue
		}
		if err := g.removeLocked(ctx, m); err != nil {
			s.logger.Error("failed to detach member", "group_id", g.ID, "member_id", m, "error", err)
		}
	}
}

// LaunchReport summarises a startup recovery.
type LaunchReport struct {
	Loaded  int
	Stale   int
	Skipped int
}

// Launch rebuilds every stored group, re-arming timers (overdue ones fire at
// once). Groups whose guild or role has vanished, or that have no members,
// are deleted in one batch afterwards. Groups whose platform lookups fail are
// left untouched for the next launch.
func (s *Scheduler) Launch(ctx context.Context) (LaunchReport, error) {
	var report LaunchReport
	s.logger.Info("populating timed action cache")

	memberRows, err := registry.Collect(registry.Scan[memberRecord](ctx, s.memberTable, nil))
	if err != nil {
		return report, fmt.Errorf("failed to load group members: %w", err)
	}
	byGroup := make(map[int64][]int64)
	for _, r := range memberRows {
		byGroup[r.GroupID] = append(byGroup[r.GroupID], r.MemberID)
	}
	rows, err := registry.Collect(registry.Scan[GroupTicket](ctx, s.view, nil))
	if err != nil {
		return report, fmt.Errorf("failed to load groups: %w", err)
	}
	// Older groups load first so a member stored in two groups ends up in the newest.
	slices.SortFunc(rows, func(a, b GroupTicket) int { return cmp.Compare(a.GroupID, b.GroupID) })

	var stale []int64
	for _, row := range rows {
		stale, err = s.recoverGroup(ctx, row, byGroup[row.GroupID], &report, stale)
		if err != nil {
			report.Skipped++
			s.logger.Warn("skipping group", "group_id", row.GroupID, "guild_id", row.GuildID, "error", err)
		}
	}
	s.logger.Info("loaded timed action groups", "loaded", report.Loaded)

	if len(stale) > 0 {
		n, err := s.groupTable.DeleteWhere(ctx, registry.Filters{"group_id": stale})
		if err != nil {
			return report, fmt.Errorf("failed to clean up stale groups: %w", err)
		}
		report.Stale = int(n)
		s.logger.Info("cleaned up stale timed action groups", "count", n)
	}
	return report, nil
}

func (s *Scheduler) recoverGroup(ctx context.Context, row GroupTicket, members []int64, report *LaunchReport, stale []int64) ([]int64, error) {
	action, ok := s.actions[tickets.Type(row.Type)]
	if !ok {
		return stale, fmt.Errorf("%w: %s", ErrUnsupportedAction, tickets.Type(row.Type))
	}
	if len(members) == 0 {
		return append(stale, row.GroupID), nil
	}
	exists, err := s.platform.GuildExists(ctx, row.GuildID)
	if err != nil {
		return stale, err
	}
	if !exists {
		return append(stale, row.GroupID), nil
	}
	if action.UsesRole() {
		exists, err := s.platform.RoleExists(ctx, row.GuildID, row.RoleID)
		if err != nil {
			return stale, err
		}
		if !exists {
			return append(stale, row.GroupID), nil
		}
	}

	t := row.Ticket(members)
	g := s.NewGroup(row.GroupID, row.TicketID, action, Target{GuildID: row.GuildID, RoleID: row.RoleID},
		row.ModeratorID, members, t.Timed.ExpiresAt, t.Timed.Duration)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return stale, ErrStopped
	}
	if _, live := s.groups[g.ID]; live {
		return stale, nil
	}
	g.loadLocked(ctx)
	report.Loaded++
	return stale, nil
}

func (s *Scheduler) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Stop cancels every pending reversal and waits for in-flight ones to return.
// Stored rows are kept so the groups are recovered at next launch.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		for _, g := range s.groups {
			if !g.state.Terminal() {
				g.state = Cancelled
			}
			g.unloaded = true
		}
		s.groups = make(map[int64]*Group)
		s.guilds = make(map[int64]map[int64]*Group)
		s.mu.Unlock()

		s.cancel()
		s.wg.Wait()
		close(s.failures)
		s.logger.Info("scheduler stopped")
	})
}

func auditReason(moderatorID int64, reason string) string {
	r := fmt.Sprintf("Moderated by %d", moderatorID)
	if reason != "" {
		return r + ": " + reason
	}
	return r + "."
}

func ceilSecond(t time.Time) time.Time {
	if c := t.Truncate(time.Second); !c.Equal(t) {
		return c.Add(time.Second)
	}
	return t
}
