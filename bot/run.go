package bot

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"moderation-bot/utils"

	"github.com/bwmarrin/discordgo"
)

// Run recovers the stored timed actions, opens the gateway and blocks until
// the process is signalled. Recovery finishes before any command can arrive.
func (b *Bot) Run(ctx context.Context) error {
	b.tasks.Start()

	report, err := b.Scheduler.Launch(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover timed actions: %w", err)
	}
	b.logger.Info("timed actions recovered", "component", "bot",
		"loaded", report.Loaded, "stale", report.Stale, "skipped", report.Skipped)

	b.Session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		b.registerCommands(r)
	})
	if err := b.Session.Open(); err != nil {
		return fmt.Errorf("error opening connection: %w", err)
	}
	if report.Stale > 0 || report.Skipped > 0 {
		msg := fmt.Sprintf("Recovered %d timed actions. Dropped %d whose guild or role is gone, skipped %d that could not be checked.",
			report.Loaded, report.Stale, report.Skipped)
		if err := utils.LogWarn(b.Session, b.config.LogChannelID, "Scheduler", "Recovery", msg); err != nil {
			b.logger.Warn("failed to send log message", "component", "bot", "error", err)
		}
	}

	b.logger.Info("bot is now running, press CTRL-C to exit", "component", "bot")
	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	select {
	case <-sc:
	case <-ctx.Done():
	case <-b.done:
	}
	return nil
}
