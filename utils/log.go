package utils

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
)

type LogLevel string

const (
	Info  LogLevel = "INFO"
	Warn  LogLevel = "WARN"
	Error LogLevel = "ERROR"
)

// ChannelSender is the part of a discordgo session used to post log embeds.
type ChannelSender interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

func getColor(level LogLevel) int {
	switch level {
	case Info:
		return 3066993 // Green
	case Warn:
		return 15105570 // Orange
	case Error:
		return 15158332 // Red
	default:
		return 3447003 // Blue
	}
}

// LogEmbed builds the operator log embed.
func LogEmbed(level LogLevel, module, operation, extraInfo string) *discordgo.MessageEmbed {
	if len(extraInfo) > 1024 {
		extraInfo = extraInfo[:1021] + "..."
	}
	if extraInfo == "" {
		extraInfo = "-"
	}
	return &discordgo.MessageEmbed{
		Title: string(level) + " Log",
		Color: getColor(level),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Module", Value: module},
			{Name: "Operation", Value: operation},
			{Name: "Details", Value: extraInfo},
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

func sendLog(s ChannelSender, channelID string, level LogLevel, module, operation, extraInfo string) error {
	if channelID == "" {
		slog.Debug("log channel not configured, dropping operator log", "component", "alerts", "module", module, "operation", operation)
		return nil
	}
	if _, err := s.ChannelMessageSendEmbed(channelID, LogEmbed(level, module, operation, extraInfo)); err != nil {
		return fmt.Errorf("failed to send log to channel %s: %w", channelID, err)
	}
	return nil
}

func LogInfo(s ChannelSender, channelID, module, operation, extraInfo string) error {
	return sendLog(s, channelID, Info, module, operation, extraInfo)
}

func LogWarn(s ChannelSender, channelID, module, operation, extraInfo string) error {
	return sendLog(s, channelID, Warn, module, operation, extraInfo)
}

func LogError(s ChannelSender, channelID, module, operation, extraInfo string) error {
	return sendLog(s, channelID, Error, module, operation, extraInfo)
}
