package alerting

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"fraudwatch/internal/config"
	"fraudwatch/pkg/models"
)

const (
	colorCritical = 0xE53935
	colorFlagged  = 0xFB8C00
)

// WebhookExecutor is the subset of *discordgo.Session used by DiscordNotifier.
type WebhookExecutor interface {
	WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

type DiscordNotifier struct {
	session  WebhookExecutor
	id       string
	token    string
	username string
}

func NewDiscordNotifier(cfg config.DiscordAlertConfig) (*DiscordNotifier, error) {
	session, err := discordgo.New("")
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	return NewDiscordNotifierWithSession(session, cfg), nil
}

func NewDiscordNotifierWithSession(session WebhookExecutor, cfg config.DiscordAlertConfig) *DiscordNotifier {
	return &DiscordNotifier{
		session:  session,
		id:       cfg.WebhookID,
		token:    cfg.WebhookToken,
		username: cfg.Username,
	}
}

func (d *DiscordNotifier) Name() string { return "discord" }

func (d *DiscordNotifier) Notify(ctx context.Context, alert models.Alert) error {
	_, err := d.session.WebhookExecute(d.id, d.token, false, buildWebhookParams(alert, d.username), discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord webhook: %w", err)
	}
	return nil
}

func buildWebhookParams(alert models.Alert, username string) *discordgo.WebhookParams {
	color := colorFlagged
	title := "Potential fraud detected"
	if alert.Critical {
		color = colorCritical
		title = "Potential fraud detected (critical rule)"
	}

	fields := []*discordgo.MessageEmbedField{
		{Name: "Chat", Value: alert.ChatID, Inline: true},
		{Name: "User", Value: userLabel(alert), Inline: true},
		{Name: "Severity", Value: fmt.Sprintf("%d", alert.Severity), Inline: true},
		{Name: "Rules", Value: strings.Join(alert.MatchedRules, ", ")},
	}

	return &discordgo.WebhookParams{
		Username: username,
		Embeds: []*discordgo.MessageEmbed{{
			Title:       title,
			Description: alert.Excerpt,
			Color:       color,
			Fields:      fields,
			Timestamp:   alert.CreatedAt.Format(time.RFC3339),
			Footer:      &discordgo.MessageEmbedFooter{Text: "Alert " + alert.ID},
		}},
	}
}
