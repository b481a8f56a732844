package bot

import (
	"sync"
	"time"

	"moderation-bot/utils"
)

const statsInterval = time.Hour

// Tasks runs the bot's background work: forwarding reversal failures to the
// log channel and periodically reporting how many groups are pending.
type Tasks struct {
	bot         *Bot
	done        chan struct{}
	wg          sync.WaitGroup
	statsTicker *time.Ticker
	stopOnce    sync.Once
}

func NewTasks(b *Bot) *Tasks {
	return &Tasks{
		bot:  b,
		done: make(chan struct{}),
	}
}

// Start begins all background tasks.
func (t *Tasks) Start() {
	t.wg.Add(2)
	go t.reportFailures()
	go t.reportStats()
}

// Stop terminates all background tasks and waits for them.
func (t *Tasks) Stop() {
	t.stopOnce.Do(func() {
		t.bot.logger.Info("stopping background tasks", "component", "tasks")
		close(t.done)
		t.wg.Wait()
		t.bot.logger.Info("background tasks stopped", "component", "tasks")
	})
}

func (t *Tasks) reportFailures() {
	defer t.wg.Done()
	failures := t.bot.Scheduler.Failures()
	for {
		select {
		case err, ok := <-failures:
			if !ok {
				return
			}
			t.bot.logger.Error("timed reversal failed", "component", "tasks", "error", err)
			if lerr := utils.LogError(t.bot.Session, t.bot.config.LogChannelID, "Scheduler", "Timed reversal", err.Error()); lerr != nil {
				t.bot.logger.Warn("failed to send log message", "component", "tasks", "error", lerr)
			}
		case <-t.done:
			return
		}
	}
}

func (t *Tasks) reportStats() {
	defer t.wg.Done()
	t.statsTicker = time.NewTicker(statsInterval)
	defer t.statsTicker.Stop()

	for {
		select {
		case <-t.statsTicker.C:
			t.bot.logger.Info("pending timed actions", "component", "tasks", "groups", t.bot.Scheduler.Len())
		case <-t.done:
			return
		}
	}
}
