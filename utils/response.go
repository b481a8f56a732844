package utils

import (
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// Responder is the part of a discordgo session used to answer interactions.
type Responder interface {
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	InteractionResponseEdit(interaction *discordgo.Interaction, newresp *discordgo.WebhookEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// SendErrorResponse sends an ephemeral error message.
func SendErrorResponse(s Responder, i *discordgo.Interaction, message string) {
	respond(s, i, "❌ "+message, true)
}

func respond(s Responder, i *discordgo.Interaction, message string, ephemeral bool) {
	data := &discordgo.InteractionResponseData{Content: message}
	if ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	err := s.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	})
	if err != nil {
		slog.Warn("failed to send interaction response", "component", "interactions", "error", err)
	}
}

// DeferResponse defers an interaction response, optionally making it ephemeral.
func DeferResponse(s Responder, i *discordgo.Interaction, ephemeral bool) error {
	response := &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	}
	if ephemeral {
		response.Data = &discordgo.InteractionResponseData{
			Flags: discordgo.MessageFlagsEphemeral,
		}
	}
	return s.InteractionRespond(i, response)
}

// SendFollowUp replaces a deferred response with lines of text, trimmed to
// the message size limit.
func SendFollowUp(s Responder, i *discordgo.Interaction, lines ...string) {
	message := strings.Join(lines, "\n")
	if len(message) > 2000 {
		message = message[:1997] + "..."
	}
	_, err := s.InteractionResponseEdit(i, &discordgo.WebhookEdit{
		Content: &message,
	})
	if err != nil {
		slog.Warn("failed to send follow-up message", "component", "interactions", "error", err)
	}
}

// SendFollowUpError replaces a deferred response with an error message.
func SendFollowUpError(s Responder, i *discordgo.Interaction, message string) {
	SendFollowUp(s, i, "❌ "+message)
}
