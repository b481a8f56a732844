package tickets

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"moderation-bot/registry"

	"github.com/bwmarrin/discordgo"
	"github.com/jmoiron/sqlx"
)

// Poster delivers rendered tickets to a guild's moderation log.
type Poster interface {
	PostModLog(ctx context.Context, guildID int64, embed *discordgo.MessageEmbed) (messageID int64, err error)
}

// PostStatus reports what happened to the log post of a new ticket.
type PostStatus int

const (
	PostSkipped PostStatus = iota
	PostDelivered
	PostFailed
)

func (s PostStatus) String() string {
	switch s {
	case PostDelivered:
		return "delivered"
	case PostFailed:
		return "failed"
	default:
		return "skipped"
	}
}

// NewTicket holds the fields of a ticket about to be created.
type NewTicket struct {
	GuildID     int64
	ModeratorID int64
	MemberIDs   []int64
	Reason      string
	Type        Type
	Timed       *TimedDetails
}

// Store persists tickets and posts them to moderation logs.
type Store struct {
	reg     *registry.Registry
	tickets *registry.Table
	members *registry.Table
	kinds   *Kinds
	poster  Poster
	logger  *slog.Logger
	now     func() time.Time
}

// NewStore registers the ticket tables on reg. The caller materialises them
// with reg.Ensure once every feature has registered its schemas.
func NewStore(reg *registry.Registry, kinds *Kinds, poster Poster, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		reg:    reg,
		kinds:  kinds,
		poster: poster,
		logger: logger.With("component", "tickets"),
		now:    time.Now,
	}
	var err error
	if s.tickets, err = reg.Register(ticketSchema); err != nil {
		return nil, err
	}
	if s.members, err = reg.Register(ticketMemberSchema); err != nil {
		return nil, err
	}
	return s, nil
}

// Kinds returns the dispatch table used for rendering.
func (s *Store) Kinds() *Kinds { return s.kinds }

// Table returns the ticket table, for features whose schemas reference it.
func (s *Store) Table() *registry.Table { return s.tickets }

// Create persists a new ticket. When post is true the ticket is also rendered
// and sent to the guild's moderation log before returning; a failed post is
// reported through the status and error but the ticket is still returned.
func (s *Store) Create(ctx context.Context, n NewTicket, post bool) (*Ticket, PostStatus, error) {
	var t *Ticket
	err := s.reg.Transact(ctx, func(tx *sqlx.Tx) error {
		var err error
		t, err = s.CreateTx(ctx, tx, n)
		return err
	})
	if err != nil {
		return nil, PostSkipped, err
	}
	s.logger.Info("ticket created", "ticket_id", t.ID, "guild_id", t.GuildID, "type", t.Type.String(), "members", len(t.MemberIDs))

	if !post {
		return t, PostSkipped, nil
	}
	if err := s.Post(ctx, t); err != nil {
		s.logger.Warn("ticket created but not posted", "ticket_id", t.ID, "guild_id", t.GuildID, "error", err)
		return t, PostFailed, err
	}
	return t, PostDelivered, nil
}

// CreateTx writes a new ticket and its member rows inside tx, so callers can
// commit it together with rows of their own. The ticket is not posted.
func (s *Store) CreateTx(ctx context.Context, tx *sqlx.Tx, n NewTicket) (*Ticket, error) {
	if _, err := s.kinds.Lookup(n.Type); err != nil {
		return nil, err
	}
	t := &Ticket{
		GuildID:     n.GuildID,
		ModeratorID: n.ModeratorID,
		MemberIDs:   dedupe(n.MemberIDs),
		Reason:      n.Reason,
		CreatedAt:   s.now().UTC().Truncate(time.Second),
		Type:        n.Type,
		Timed:       n.Timed,
	}
	var reason any
	if t.Reason != "" {
		reason = t.Reason
	}

	id, err := s.tickets.With(tx).Insert(ctx, registry.Values{
		"guild_id":     t.GuildID,
		"moderator_id": t.ModeratorID,
		"reason":       reason,
		"created_at":   t.CreatedAt,
		"type":         int(t.Type),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create %s ticket in guild %d: %w", n.Type, n.GuildID, err)
	}
	t.ID = id
	rows := make([][]any, len(t.MemberIDs))
	for i, m := range t.MemberIDs {
		rows[i] = []any{id, m}
	}
	if err := s.members.With(tx).InsertMany(ctx, []string{"ticket_id", "member_id"}, rows...); err != nil {
		return nil, fmt.Errorf("failed to create %s ticket in guild %d: %w", n.Type, n.GuildID, err)
	}
	return t, nil
}

// Post renders a ticket and sends it to the guild's moderation log, recording
// the resulting message id.
func (s *Store) Post(ctx context.Context, t *Ticket) error {
	summary, err := s.kinds.Render(t)
	if err != nil {
		return err
	}
	if s.poster == nil {
		return fmt.Errorf("%w: ticket %d: %w", ErrPostFailed, t.ID, ErrNoModLog)
	}
	msgID, err := s.poster.PostModLog(ctx, t.GuildID, summary.Embed())
	if err != nil {
		return fmt.Errorf("%w: ticket %d: %w", ErrPostFailed, t.ID, err)
	}
	t.MessageID = msgID
	if _, err := s.tickets.UpdateWhere(ctx, registry.Filters{"ticket_id": t.ID}, registry.Values{"message_id": msgID}); err != nil {
		return fmt.Errorf("ticket %d posted but message id not saved: %w", t.ID, err)
	}
	return nil
}

// Get loads a single ticket.
func (s *Store) Get(ctx context.Context, ticketID int64) (*Ticket, error) {
	ts, err := s.load(ctx, registry.Filters{"ticket_id": ticketID})
	if err != nil {
		return nil, err
	}
	if len(ts) == 0 {
		return nil, fmt.Errorf("%w: %d", ErrTicketNotFound, ticketID)
	}
	return ts[0], nil
}

// ForGuild loads every ticket of a guild, oldest first.
func (s *Store) ForGuild(ctx context.Context, guildID int64) ([]*Ticket, error) {
	return s.load(ctx, registry.Filters{"guild_id": guildID})
}

// ForMember loads the tickets of a guild that name the member, oldest first.
func (s *Store) ForMember(ctx context.Context, guildID, memberID int64) ([]*Ticket, error) {
	rows, err := registry.Collect(registry.Scan[memberRow](ctx, s.members, registry.Filters{"member_id": memberID}))
	if err != nil {
		return nil, fmt.Errorf("failed to get tickets for member %d: %w", memberID, err)
	}
	ids := make([]int64, len(rows))
	for i, r := range rows {
		ids[i] = r.TicketID
	}
	return s.load(ctx, registry.Filters{"ticket_id": ids, "guild_id": guildID})
}

// Delete removes a ticket and its member rows.
func (s *Store) Delete(ctx context.Context, ticketID int64) error {
	n, err := s.tickets.DeleteWhere(ctx, registry.Filters{"ticket_id": ticketID})
	if err != nil {
		return fmt.Errorf("failed to delete ticket %d: %w", ticketID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", ErrTicketNotFound, ticketID)
	}
	return nil
}

func (s *Store) load(ctx context.Context, filters registry.Filters) ([]*Ticket, error) {
	records, err := registry.Collect(registry.Scan[Record](ctx, s.tickets, filters))
	if err != nil {
		return nil, fmt.Errorf("failed to load tickets: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	ids := make([]int64, len(records))
	for i, r := range records {
		ids[i] = r.TicketID
	}
	members, err := s.MembersOf(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]*Ticket, len(records))
	for i, r := range records {
		out[i] = r.Ticket(members[r.TicketID])
	}
	return out, nil
}

// MembersOf returns the member ids recorded against each of the given tickets.
func (s *Store) MembersOf(ctx context.Context, ticketIDs []int64) (map[int64][]int64, error) {
	rows, err := registry.Collect(registry.Scan[memberRow](ctx, s.members, registry.Filters{"ticket_id": ticketIDs}))
	if err != nil {
		return nil, fmt.Errorf("failed to load ticket members: %w", err)
	}
	out := make(map[int64][]int64, len(ticketIDs))
	for _, r := range rows {
		out[r.TicketID] = append(out[r.TicketID], r.MemberID)
	}
	return out, nil
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
