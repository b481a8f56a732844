package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"moderation-bot/commands"
	"moderation-bot/config"
	"moderation-bot/moderation"
	"moderation-bot/platform"
	"moderation-bot/registry"
	"moderation-bot/tickets"

	"github.com/bwmarrin/discordgo"
)

type Bot struct {
	Session            *discordgo.Session
	RegisteredCommands []*discordgo.ApplicationCommand
	CommandHandlers    map[string]func(s *discordgo.Session, i *discordgo.InteractionCreate)

	Registry  *registry.Registry
	Tickets   *tickets.Store
	Scheduler *moderation.Scheduler
	Moderator *moderation.Moderator

	config       *config.Config
	conn         *registry.Conn
	logger       *slog.Logger
	tasks        *Tasks
	commandsOnce sync.Once
	closeOnce    sync.Once
	done         chan struct{}
}

func (b *Bot) Config() *config.Config { return b.config }

func (b *Bot) Logger() *slog.Logger { return b.logger }

// Features registers every table and view the bot uses on reg. The same
// wiring serves a live registry and a detached one used to print the schema.
func Features(reg *registry.Registry, plat moderation.Platform, poster tickets.Poster, logger *slog.Logger) (*tickets.Store, *moderation.Scheduler, error) {
	kinds, err := tickets.DefaultKinds()
	if err != nil {
		return nil, nil, err
	}
	store, err := tickets.NewStore(reg, kinds, poster, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to register ticket tables: %w", err)
	}
	sched, err := moderation.NewScheduler(reg, store, plat, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to register timed action tables: %w", err)
	}
	return store, sched, nil
}

// Describe renders the schema the bot would create on the configured backend
// without connecting to it.
func Describe(cfg *config.Config) (string, error) {
	d, err := registry.DialectFor(cfg.Database.Backend)
	if err != nil {
		return "", err
	}
	reg := registry.NewDetached(d, cfg.App)
	if _, _, err := Features(reg, nil, nil, slog.Default()); err != nil {
		return "", err
	}
	return reg.Describe(), nil
}

// New connects to the store, registers and materialises every schema and
// prepares the Discord session. Nothing is sent to Discord until Run.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Bot, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dg, err := discordgo.New("Bot " + cfg.BotToken)
	if err != nil {
		return nil, err
	}
	dg.Identify.Intents = discordgo.IntentsGuilds
	dg.StateEnabled = true

	conn, err := registry.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	b := &Bot{
		Session:  dg,
		Registry: registry.New(conn, cfg.App),
		config:   cfg,
		conn:     conn,
		logger:   logger,
		done:     make(chan struct{}),
	}
	plat := platform.FromSession(dg, cfg.ModLogChannels, logger)
	b.Tickets, b.Scheduler, err = Features(b.Registry, plat, plat, logger)
	if err == nil {
		err = b.Registry.Ensure(ctx)
	}
	if err != nil {
		return nil, errors.Join(err, conn.Close())
	}
	b.Moderator = moderation.NewModerator(plat, b.Tickets, b.Scheduler, logger)
	b.tasks = NewTasks(b)
	return b, nil
}

// Close stops pending reversals without touching their stored state, then
// releases the session and the store.
func (b *Bot) Close() {
	b.closeOnce.Do(func() {
		b.logger.Info("gracefully shutting down", "component", "bot")
		close(b.done)
		b.Scheduler.Stop()
		b.tasks.Stop()
		if err := b.Session.Close(); err != nil {
			b.logger.Warn("failed to close session", "component", "bot", "error", err)
		}
		if err := b.conn.Close(); err != nil {
			b.logger.Warn("failed to close database", "component", "bot", "error", err)
		}
	})
}

// RefreshCommands overwrites the application commands of one guild.
func (b *Bot) RefreshCommands(guildID string) {
	cmds := commands.GenerateCommands()
	b.logger.Info("registering commands", "component", "bot", "guild_id", guildID, "count", len(cmds))
	registered, err := b.Session.ApplicationCommandBulkOverwrite(b.Session.State.User.ID, guildID, cmds)
	if err != nil {
		b.logger.Error("cannot update commands", "component", "bot", "guild_id", guildID, "error", err)
		return
	}
	b.RegisteredCommands = append(b.RegisteredCommands, registered...)
}

// registerCommands registers the slash commands in every guild the bot is
// in. Ready fires again on every reconnect; only the first one registers.
func (b *Bot) registerCommands(r *discordgo.Ready) {
	b.commandsOnce.Do(func() {
		for _, g := range r.Guilds {
			b.RefreshCommands(g.ID)
		}
	})
}
