package tickets

import (
	"database/sql"
	"errors"
	"time"
)

var (
	ErrTicketNotFound = errors.New("ticket not found")
	ErrUnknownType    = errors.New("unknown ticket type")
	ErrDuplicateKind  = errors.New("ticket type registered twice")
	ErrMissingKind    = errors.New("ticket type has no kind")
	ErrNoModLog       = errors.New("guild has no moderation log channel")
	ErrPostFailed     = errors.New("failed to post ticket")
)

// Ticket is the permanent record of one moderation decision.
type Ticket struct {
	ID          int64
	GuildID     int64
	ModeratorID int64
	MemberIDs   []int64
	Reason      string
	CreatedAt   time.Time
	Type        Type
	MessageID   int64

	// Timed is set for actions that are reversed automatically.
	Timed *TimedDetails
}

// TimedDetails are the extra fields of a ticket for a timed action.
type TimedDetails struct {
	GroupID   int64
	RoleID    int64
	Duration  time.Duration
	ExpiresAt time.Time
}

// Record is the persisted row of a ticket. Views joining the ticket table can
// embed it in their own row types.
type Record struct {
	App         string         `db:"app"`
	TicketID    int64          `db:"ticket_id"`
	GuildID     int64          `db:"guild_id"`
	ModeratorID int64          `db:"moderator_id"`
	Reason      sql.NullString `db:"reason"`
	CreatedAt   time.Time      `db:"created_at"`
	Type        int            `db:"type"`
	MessageID   sql.NullInt64  `db:"message_id"`
}

// Ticket converts the record into a ticket with the given members.
func (r Record) Ticket(memberIDs []int64) *Ticket {
	return &Ticket{
		ID:          r.TicketID,
		GuildID:     r.GuildID,
		ModeratorID: r.ModeratorID,
		MemberIDs:   memberIDs,
		Reason:      r.Reason.String,
		CreatedAt:   r.CreatedAt,
		Type:        Type(r.Type),
		MessageID:   r.MessageID.Int64,
	}
}
