package commands

import (
	"moderation-bot/commands/defs"

	"github.com/bwmarrin/discordgo"
)

// GenerateCommands returns the application commands registered in every guild.
func GenerateCommands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		defs.Mute,
		defs.Unmute,
		defs.TempBan,
		defs.Unban,
		defs.Ban,
		defs.Softban,
		defs.Hackban,
		defs.Kick,
		defs.Note,
		defs.Tickets,
		defs.DeleteTicket,
	}
}
