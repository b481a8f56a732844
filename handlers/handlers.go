package handlers

import (
	"log/slog"

	"moderation-bot/bot"
	"moderation-bot/utils"

	"github.com/bwmarrin/discordgo"
)

func Register(b *bot.Bot) {
	m := NewModeration(b.Scheduler, b.Moderator, b.Tickets, b.Config().MuteRoles, b.Logger())
	b.CommandHandlers = commandHandlers(m)
	addHandlers(b)
}

func commandHandlers(m *Moderation) map[string]func(s *discordgo.Session, i *discordgo.InteractionCreate) {
	handlers := make(map[string]func(s *discordgo.Session, i *discordgo.InteractionCreate))
	for name, h := range m.Commands() {
		handlers[name] = func(s *discordgo.Session, i *discordgo.InteractionCreate) {
			h(s, i)
		}
	}
	return handlers
}

func addHandlers(b *bot.Bot) {
	b.Session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		slog.Info("logged in", "component", "bot", "user", r.User.Username, "guilds", len(r.Guilds))
		if err := utils.LogInfo(s, b.Config().LogChannelID, "System", "Startup", "Bot has started successfully."); err != nil {
			slog.Warn("failed to send startup log", "component", "bot", "error", err)
		}
	})
	b.Session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		if i.Type != discordgo.InteractionApplicationCommand {
			return
		}
		if h, ok := b.CommandHandlers[i.ApplicationCommandData().Name]; ok {
			h(s, i)
		}
	})
}
