package defs

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
)

func perm(p int64) *int64 { return &p }

func membersOption(description string) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "members",
		Description: description,
		Required:    true,
	}
}

func durationOption() *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "duration",
		Description: "How long until it is lifted, e.g. 30m, 12h, 3d, 1d12h",
		Required:    true,
	}
}

func reasonOption() *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "reason",
		Description: "Reason recorded on the ticket",
		Required:    false,
	}
}

// deleteDaysOption sets how many days of the member's messages a ban removes.
func deleteDaysOption(defaultDays int) *discordgo.ApplicationCommandOption {
	minDays := 0.0
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionInteger,
		Name:        "delete_days",
		Description: fmt.Sprintf("Days of messages to delete, 0 to 7 (default %d)", defaultDays),
		MinValue:    &minDays,
		MaxValue:    7,
		Required:    false,
	}
}

var Mute = &discordgo.ApplicationCommand{
	Name:                     "mute",
	Description:              "Temporarily mute members with the guild's mute role",
	DefaultMemberPermissions: perm(discordgo.PermissionModerateMembers),
	Options: []*discordgo.ApplicationCommandOption{
		membersOption("Members to mute (mentions or ids)"),
		durationOption(),
		reasonOption(),
	},
}

var Unmute = &discordgo.ApplicationCommand{
	Name:                     "unmute",
	Description:              "Lift a timed mute or ban before it expires",
	DefaultMemberPermissions: perm(discordgo.PermissionModerateMembers),
	Options: []*discordgo.ApplicationCommandOption{
		membersOption("Members to release (mentions or ids)"),
		reasonOption(),
	},
}

var TempBan = &discordgo.ApplicationCommand{
	Name:                     "tempban",
	Description:              "Ban members and unban them automatically later",
	DefaultMemberPermissions: perm(discordgo.PermissionBanMembers),
	Options: []*discordgo.ApplicationCommandOption{
		membersOption("Members to ban (mentions or ids)"),
		durationOption(),
		reasonOption(),
	},
}

var Ban = &discordgo.ApplicationCommand{
	Name:                     "ban",
	Description:              "Ban members permanently",
	DefaultMemberPermissions: perm(discordgo.PermissionBanMembers),
	Options: []*discordgo.ApplicationCommandOption{
		membersOption("Members to ban (mentions or ids)"),
		reasonOption(),
		deleteDaysOption(0),
	},
}

var Softban = &discordgo.ApplicationCommand{
	Name:                     "softban",
	Description:              "Ban and immediately unban members to clear their messages",
	DefaultMemberPermissions: perm(discordgo.PermissionBanMembers),
	Options: []*discordgo.ApplicationCommandOption{
		membersOption("Members to softban (mentions or ids)"),
		reasonOption(),
		deleteDaysOption(1),
	},
}

var Unban = &discordgo.ApplicationCommand{
	Name:                     "unban",
	Description:              "Unban users, cancelling any pending temporary ban",
	DefaultMemberPermissions: perm(discordgo.PermissionBanMembers),
	Options: []*discordgo.ApplicationCommandOption{
		membersOption("User ids to unban"),
		reasonOption(),
	},
}

var Hackban = &discordgo.ApplicationCommand{
	Name:                     "hackban",
	Description:              "Ban users who are not in the guild",
	DefaultMemberPermissions: perm(discordgo.PermissionBanMembers),
	Options: []*discordgo.ApplicationCommandOption{
		membersOption("User ids to ban"),
		reasonOption(),
		deleteDaysOption(1),
	},
}

var Kick = &discordgo.ApplicationCommand{
	Name:                     "kick",
	Description:              "Kick members",
	DefaultMemberPermissions: perm(discordgo.PermissionKickMembers),
	Options: []*discordgo.ApplicationCommandOption{
		membersOption("Members to kick (mentions or ids)"),
		reasonOption(),
	},
}

var Note = &discordgo.ApplicationCommand{
	Name:                     "note",
	Description:              "Record a moderation note without acting",
	DefaultMemberPermissions: perm(discordgo.PermissionModerateMembers),
	Options: []*discordgo.ApplicationCommandOption{
		membersOption("Members the note is about"),
		{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        "reason",
			Description: "The note",
			Required:    true,
		},
	},
}

var Tickets = &discordgo.ApplicationCommand{
	Name:                     "tickets",
	Description:              "Show a member's moderation history, or the latest tickets of the server",
	DefaultMemberPermissions: perm(discordgo.PermissionModerateMembers),
	Options: []*discordgo.ApplicationCommandOption{
		{
			Type:        discordgo.ApplicationCommandOptionUser,
			Name:        "user",
			Description: "Member to look up",
			Required:    false,
		},
	},
}

var DeleteTicket = &discordgo.ApplicationCommand{
	Name:                     "delete-ticket",
	Description:              "Delete a ticket recorded by mistake",
	DefaultMemberPermissions: perm(discordgo.PermissionManageGuild),
	Options: []*discordgo.ApplicationCommandOption{
		{
			Type:        discordgo.ApplicationCommandOptionInteger,
			Name:        "ticket",
			Description: "Ticket number",
			Required:    true,
		},
	},
}
