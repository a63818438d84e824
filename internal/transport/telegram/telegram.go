// Package telegram long-polls the Bot API and feeds chat messages into the
// pipeline, replying in the origin chat with the outcome.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/sync/semaphore"

	"fraudwatch/internal/access"
	"fraudwatch/internal/config"
	"fraudwatch/internal/logger"
	"fraudwatch/internal/pipeline"
	"fraudwatch/pkg/logging"
	"fraudwatch/pkg/models"
)

const sourceName = "telegram"

// Bot is the part of *tgbotapi.BotAPI the transport uses.
type Bot interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetFileDirectURL(fileID string) (string, error)
}

func NewBot(cfg config.TelegramConfig) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	bot.Debug = cfg.Debug
	return bot, nil
}

type Transport struct {
	bot           Bot
	submitter     pipeline.Submitter
	access        *access.Filter
	sem           *semaphore.Weighted
	cfg           config.TelegramConfig
	maxImageBytes int64
	httpClient    *http.Client
	logger        logger.Logger
	wg            sync.WaitGroup
}

// New builds the transport. filter may be nil; when set, messages from
// chats it denies are submitted without downloading their attachments.
func New(bot Bot, submitter pipeline.Submitter, filter *access.Filter, cfg config.TelegramConfig, maxImageBytes int64, log logger.Logger) *Transport {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	return &Transport{
		bot:           bot,
		submitter:     submitter,
		access:        filter,
		sem:           semaphore.NewWeighted(cfg.MaxConcurrent),
		cfg:           cfg,
		maxImageBytes: maxImageBytes,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		logger:        log,
	}
}

// Run polls until ctx is done. At most cfg.MaxConcurrent messages are
// handled at once; polling waits for a free slot. Messages already being
// handled are allowed to finish before Run returns.
func (t *Transport) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = t.cfg.PollTimeout
	u.AllowedUpdates = []string{"message"}
	updates := t.bot.GetUpdatesChan(u)

	t.logger.Infow("Telegram polling started", "timeout", t.cfg.PollTimeout)
	defer func() {
		t.bot.StopReceivingUpdates()
		t.wg.Wait()
		t.logger.Info("Telegram polling stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}
			if err := t.sem.Acquire(ctx, 1); err != nil {
				return nil
			}
			msg := update.Message
			t.wg.Add(1)
			go func() {
				defer t.wg.Done()
				defer t.sem.Release(1)
				t.HandleMessage(context.WithoutCancel(ctx), msg)
			}()
		}
	}
}

// HandleMessage converts msg into events, submits them and replies.
func (t *Transport) HandleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.Chat == nil {
		return
	}
	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	ctx = logging.WithChatID(ctx, chatID)

	// A denied chat gets one event, without downloads, so the pipeline
	// records the attempt once and nothing is fetched on its behalf.
	denied := t.access != nil && !t.access.Check(chatID).Allowed
	events, err := t.events(ctx, msg, !denied)
	if err != nil {
		t.logger.ErrorwCtx(ctx, "Failed to read telegram message", "error", err, "message_id", msg.MessageID)
		t.reply(ctx, msg, "Failed to download image.")
		return
	}
	if denied && len(events) > 1 {
		events = events[:1]
	}

	for _, ev := range events {
		out, err := t.submitter.Submit(ctx, ev)
		if err != nil {
			t.logger.ErrorwCtx(ctx, "Event not processed", "error", err, "event_id", ev.ID)
		}
		for _, text := range Replies(ev, out, t.maxImageBytes) {
			t.reply(ctx, msg, text)
		}
	}
}

// Events builds the inbound events for msg: one for text, one for the
// largest photo or an image document, one for a caption. Other message
// kinds yield nothing.
func (t *Transport) Events(ctx context.Context, msg *tgbotapi.Message) ([]models.InboundEvent, error) {
	return t.events(ctx, msg, true)
}

func (t *Transport) events(ctx context.Context, msg *tgbotapi.Message, download bool) ([]models.InboundEvent, error) {
	base := models.InboundEvent{
		ID:        fmt.Sprintf("%d:%d", msg.Chat.ID, msg.MessageID),
		ChatID:    strconv.FormatInt(msg.Chat.ID, 10),
		Timestamp: time.Unix(int64(msg.Date), 0).UTC(),
		Source:    sourceName,
	}
	if msg.Date == 0 {
		base.Timestamp = time.Now().UTC()
	}
	if msg.From != nil {
		base.UserID = strconv.FormatInt(msg.From.ID, 10)
		base.Username = msg.From.UserName
		if base.Username == "" {
			base.Username = msg.From.FirstName
		}
	}

	var events []models.InboundEvent
	if msg.Text != "" {
		ev := base
		ev.Kind = models.KindText
		ev.Text = msg.Text
		return append(events, ev), nil
	}

	fileID, size, isImage := imageAttachment(msg)
	if isImage {
		ev := base
		ev.Kind = models.KindImage
		if !download {
			ev.DeclaredSize = size
		} else if err := t.attach(ctx, &ev, fileID, size); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}

	if msg.Caption != "" && (isImage || msg.Document != nil) {
		ev := base
		ev.ID += ":caption"
		ev.Kind = models.KindText
		ev.Text = msg.Caption
		events = append(events, ev)
	}
	return events, nil
}

func imageAttachment(msg *tgbotapi.Message) (fileID string, size int64, ok bool) {
	if len(msg.Photo) > 0 {
		photo := msg.Photo[len(msg.Photo)-1]
		return photo.FileID, int64(photo.FileSize), true
	}
	if msg.Document != nil && strings.HasPrefix(msg.Document.MimeType, "image/") {
		return msg.Document.FileID, int64(msg.Document.FileSize), true
	}
	return "", 0, false
}

// attach downloads the file into ev. Files advertised or found to be over
// the limit are not kept; DeclaredSize carries the size so the pipeline
// rejects the event.
func (t *Transport) attach(ctx context.Context, ev *models.InboundEvent, fileID string, advertised int64) error {
	ev.DeclaredSize = advertised
	if t.maxImageBytes > 0 && advertised > t.maxImageBytes {
		t.logger.WarnwCtx(ctx, "Skipping download of oversized image", "size", advertised, "limit", t.maxImageBytes)
		return nil
	}

	link, err := t.bot.GetFileDirectURL(fileID)
	if err != nil {
		return fmt.Errorf("get telegram file: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return fmt.Errorf("build download request: %w", err)
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("download telegram file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download telegram file: unexpected status %d", resp.StatusCode)
	}

	var body io.Reader = resp.Body
	if t.maxImageBytes > 0 {
		body = io.LimitReader(resp.Body, t.maxImageBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("read telegram file body: %w", err)
	}
	if len(data) == 0 {
		return errors.New("telegram file is empty")
	}

	if t.maxImageBytes > 0 && int64(len(data)) > t.maxImageBytes {
		ev.DeclaredSize = int64(len(data))
		return nil
	}
	ev.Image = data
	return nil
}

func (t *Transport) reply(ctx context.Context, msg *tgbotapi.Message, text string) {
	if !t.cfg.ReplyWarnings || text == "" {
		return
	}
	out := tgbotapi.NewMessage(msg.Chat.ID, text)
	out.ReplyToMessageID = msg.MessageID
	if _, err := t.bot.Send(out); err != nil {
		t.logger.WarnwCtx(ctx, "Failed to send telegram reply", "error", err)
	}
}

// Replies returns the messages sent back to the chat for an outcome.
func Replies(ev models.InboundEvent, out models.Outcome, maxImageBytes int64) []string {
	image := ev.Kind == models.KindImage

	switch out.Status {
	case models.StatusRejected:
		switch out.Reason {
		case models.ReasonUnauthorized:
			return []string{"Unauthorized chat. Access denied."}
		case models.ReasonRateLimited:
			return []string{"Rate limit exceeded. Please slow down."}
		case models.ReasonOversized:
			if image {
				return []string{fmt.Sprintf("Image too large. Maximum size: %dMB", maxImageBytes/(1024*1024))}
			}
			return []string{"Message too long."}
		}
		return nil
	case models.StatusFailed:
		if image {
			return []string{"Failed to process image. Please try again."}
		}
		return []string{"Internal error occurred. Please try again later."}
	case models.StatusDuplicate:
		return nil
	}

	flagged := out.Flagged()
	if !image {
		if flagged {
			return []string{"Potential fraud detected! Please be careful."}
		}
		return nil
	}

	var replies []string
	switch {
	case out.Degraded:
		replies = append(replies, "Failed to process image. Please try again.")
	case out.Extracted == "":
		replies = append(replies, "Image processed, but no text was found.")
	default:
		replies = append(replies, fmt.Sprintf("Image processed! Extracted %d characters of text.", len([]rune(out.Extracted))))
	}
	if flagged {
		replies = append(replies, "Potential fraud detected in image! Please be careful.")
	}
	return replies
}
