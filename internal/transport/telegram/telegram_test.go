package telegram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fraudwatch/internal/access"
	"fraudwatch/internal/config"
	"fraudwatch/internal/logger"
	"fraudwatch/pkg/models"
)

type fakeBot struct {
	mu       sync.Mutex
	sent     []tgbotapi.MessageConfig
	fileURL  string
	updates  chan tgbotapi.Update
	stopped  bool
	fileReqs int
}

func newFakeBot(fileURL string) *fakeBot {
	return &fakeBot{fileURL: fileURL, updates: make(chan tgbotapi.Update, 10)}
}

func (b *fakeBot) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return b.updates
}

func (b *fakeBot) StopReceivingUpdates() {
	b.mu.Lock()
	b.stopped = true
	b.mu.Unlock()
}

func (b *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m, ok := c.(tgbotapi.MessageConfig); ok {
		b.sent = append(b.sent, m)
	}
	return tgbotapi.Message{}, nil
}

func (b *fakeBot) GetFileDirectURL(fileID string) (string, error) {
	b.mu.Lock()
	b.fileReqs++
	b.mu.Unlock()
	return b.fileURL + "/" + fileID, nil
}

func (b *fakeBot) texts() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, m := range b.sent {
		out = append(out, m.Text)
	}
	return out
}

type fakeSubmitter struct {
	mu      sync.Mutex
	events  []models.InboundEvent
	outcome func(models.InboundEvent) models.Outcome
}

func (s *fakeSubmitter) Submit(_ context.Context, ev models.InboundEvent) (models.Outcome, error) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	if s.outcome == nil {
		return models.Outcome{Status: models.StatusProcessed}, nil
	}
	return s.outcome(ev), nil
}

func (s *fakeSubmitter) received() []models.InboundEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.InboundEvent(nil), s.events...)
}

func fileServer(t *testing.T, body []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/missing") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTransport(bot Bot, sub *fakeSubmitter, maxBytes int64) *Transport {
	return New(bot, sub, nil, config.TelegramConfig{ReplyWarnings: true, PollTimeout: 1}, maxBytes, logger.NopLogger())
}

func textMessage(text string) *tgbotapi.Message {
	return &tgbotapi.Message{
		MessageID: 7,
		Date:      1714564800,
		Chat:      &tgbotapi.Chat{ID: -100123},
		From:      &tgbotapi.User{ID: 42, UserName: "alice"},
		Text:      text,
	}
}

func TestEvents_Text(t *testing.T) {
	tr := newTransport(newFakeBot(""), &fakeSubmitter{}, 1024)

	events, err := tr.Events(context.Background(), textMessage("hello"))
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, "-100123:7", ev.ID)
	assert.Equal(t, "-100123", ev.ChatID)
	assert.Equal(t, "42", ev.UserID)
	assert.Equal(t, "alice", ev.Username)
	assert.Equal(t, models.KindText, ev.Kind)
	assert.Equal(t, "hello", ev.Text)
	assert.Equal(t, "telegram", ev.Source)
	assert.Equal(t, time.Unix(1714564800, 0).UTC(), ev.Timestamp)
	assert.NoError(t, models.ValidateInboundEvent(ev))
}

func TestEvents_FirstNameFallback(t *testing.T) {
	tr := newTransport(newFakeBot(""), &fakeSubmitter{}, 1024)
	msg := textMessage("hi")
	msg.From = &tgbotapi.User{ID: 1, FirstName: "Bob"}

	events, err := tr.Events(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, "Bob", events[0].Username)
}

func TestEvents_LargestPhotoWithCaption(t *testing.T) {
	srv := fileServer(t, []byte("image-bytes"))
	bot := newFakeBot(srv.URL)
	tr := newTransport(bot, &fakeSubmitter{}, 1024)

	msg := textMessage("")
	msg.Photo = []tgbotapi.PhotoSize{
		{FileID: "small", FileSize: 10},
		{FileID: "large", FileSize: 11},
	}
	msg.Caption = "send btc"

	events, err := tr.Events(context.Background(), msg)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, models.KindImage, events[0].Kind)
	assert.Equal(t, []byte("image-bytes"), events[0].Image)
	assert.Equal(t, int64(11), events[0].DeclaredSize)

	assert.Equal(t, models.KindText, events[1].Kind)
	assert.Equal(t, "send btc", events[1].Text)
	assert.Equal(t, "-100123:7:caption", events[1].ID)
}

func TestEvents_OversizedPhotoNotDownloaded(t *testing.T) {
	bot := newFakeBot("http://unused")
	tr := newTransport(bot, &fakeSubmitter{}, 100)

	msg := textMessage("")
	msg.Photo = []tgbotapi.PhotoSize{{FileID: "huge", FileSize: 5000}}

	events, err := tr.Events(context.Background(), msg)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Empty(t, events[0].Image)
	assert.Equal(t, int64(5000), events[0].PayloadSize())
	assert.Zero(t, bot.fileReqs)
}

func TestEvents_DownloadLargerThanAdvertised(t *testing.T) {
	srv := fileServer(t, []byte(strings.Repeat("x", 200)))
	tr := newTransport(newFakeBot(srv.URL), &fakeSubmitter{}, 100)

	msg := textMessage("")
	msg.Document = &tgbotapi.Document{FileID: "doc", MimeType: "image/png", FileSize: 50}

	events, err := tr.Events(context.Background(), msg)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Empty(t, events[0].Image)
	assert.Equal(t, int64(101), events[0].DeclaredSize)
}

func TestEvents_NonImageDocumentIgnored(t *testing.T) {
	tr := newTransport(newFakeBot(""), &fakeSubmitter{}, 100)

	msg := textMessage("")
	msg.Document = &tgbotapi.Document{FileID: "doc", MimeType: "application/pdf"}

	events, err := tr.Events(context.Background(), msg)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestHandleMessage_DownloadFailure(t *testing.T) {
	srv := fileServer(t, nil)
	bot := newFakeBot(srv.URL)
	sub := &fakeSubmitter{}
	tr := newTransport(bot, sub, 1024)

	msg := textMessage("")
	msg.Photo = []tgbotapi.PhotoSize{{FileID: "missing", FileSize: 10}}

	tr.HandleMessage(context.Background(), msg)
	assert.Empty(t, sub.received())
	assert.Equal(t, []string{"Failed to download image."}, bot.texts())
}

func TestHandleMessage_RepliesToOrigin(t *testing.T) {
	bot := newFakeBot("")
	sub := &fakeSubmitter{outcome: func(models.InboundEvent) models.Outcome {
		return models.Rejected(models.ReasonUnauthorized)
	}}
	tr := newTransport(bot, sub, 1024)

	tr.HandleMessage(context.Background(), textMessage("hello"))

	require.Len(t, bot.sent, 1)
	assert.Equal(t, "Unauthorized chat. Access denied.", bot.sent[0].Text)
	assert.Equal(t, int64(-100123), bot.sent[0].ChatID)
	assert.Equal(t, 7, bot.sent[0].ReplyToMessageID)
}

func TestHandleMessage_NoRepliesWhenDisabled(t *testing.T) {
	bot := newFakeBot("")
	sub := &fakeSubmitter{outcome: func(models.InboundEvent) models.Outcome {
		return models.Rejected(models.ReasonRateLimited)
	}}
	tr := New(bot, sub, nil, config.TelegramConfig{}, 1024, logger.NopLogger())

	tr.HandleMessage(context.Background(), textMessage("hello"))
	assert.Len(t, sub.received(), 1)
	assert.Empty(t, bot.texts())
}

func TestHandleMessage_DeniedChatSkipsDownload(t *testing.T) {
	bot := newFakeBot("http://unused")
	sub := &fakeSubmitter{outcome: func(models.InboundEvent) models.Outcome {
		return models.Rejected(models.ReasonUnauthorized)
	}}
	filter, err := access.NewFilter([]string{"999"}, false)
	require.NoError(t, err)
	tr := New(bot, sub, filter, config.TelegramConfig{ReplyWarnings: true}, 1024, logger.NopLogger())

	msg := textMessage("")
	msg.Photo = []tgbotapi.PhotoSize{{FileID: "photo", FileSize: 512}}
	msg.Caption = "send btc"

	tr.HandleMessage(context.Background(), msg)

	bot.mu.Lock()
	assert.Zero(t, bot.fileReqs)
	bot.mu.Unlock()
	received := sub.received()
	require.Len(t, received, 1)
	assert.Empty(t, received[0].Image)
	assert.Equal(t, int64(512), received[0].DeclaredSize)
	assert.Equal(t, []string{"Unauthorized chat. Access denied."}, bot.texts())
}

func TestHandleMessage_AllowedChatDownloads(t *testing.T) {
	srv := fileServer(t, []byte("image-bytes"))
	bot := newFakeBot(srv.URL)
	sub := &fakeSubmitter{}
	filter, err := access.NewFilter([]string{"-100123"}, false)
	require.NoError(t, err)
	tr := New(bot, sub, filter, config.TelegramConfig{}, 1024, logger.NopLogger())

	msg := textMessage("")
	msg.Photo = []tgbotapi.PhotoSize{{FileID: "photo", FileSize: 11}}

	tr.HandleMessage(context.Background(), msg)

	received := sub.received()
	require.Len(t, received, 1)
	assert.Equal(t, []byte("image-bytes"), received[0].Image)
}

type blockingSubmitter struct {
	release  chan struct{}
	inFlight atomic.Int32
	peak     atomic.Int32
	done     atomic.Int32
}

func (s *blockingSubmitter) Submit(context.Context, models.InboundEvent) (models.Outcome, error) {
	n := s.inFlight.Add(1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	<-s.release
	s.inFlight.Add(-1)
	s.done.Add(1)
	return models.Outcome{Status: models.StatusProcessed}, nil
}

func TestRun_BoundsConcurrentMessages(t *testing.T) {
	bot := newFakeBot("")
	sub := &blockingSubmitter{release: make(chan struct{})}
	tr := New(bot, sub, nil, config.TelegramConfig{MaxConcurrent: 2}, 1024, logger.NopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx) }()

	for i := 0; i < 5; i++ {
		bot.updates <- tgbotapi.Update{Message: textMessage("msg")}
	}
	require.Eventually(t, func() bool { return sub.inFlight.Load() == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(2), sub.inFlight.Load())

	close(sub.release)
	require.Eventually(t, func() bool { return sub.done.Load() == 5 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(2), sub.peak.Load())

	cancel()
	require.NoError(t, <-done)
}

func TestRun_StopsOnCancel(t *testing.T) {
	bot := newFakeBot("")
	sub := &fakeSubmitter{}
	tr := newTransport(bot, sub, 1024)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx) }()

	bot.updates <- tgbotapi.Update{Message: textMessage("one")}
	bot.updates <- tgbotapi.Update{}
	require.Eventually(t, func() bool { return len(sub.received()) == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.True(t, bot.stopped)
}

func TestReplies(t *testing.T) {
	text := models.InboundEvent{Kind: models.KindText}
	image := models.InboundEvent{Kind: models.KindImage}
	flagged := &models.FraudVerdict{Flagged: true}
	clean := &models.FraudVerdict{}

	tests := []struct {
		name string
		ev   models.InboundEvent
		out  models.Outcome
		want []string
	}{
		{"rate limited", text, models.Rejected(models.ReasonRateLimited), []string{"Rate limit exceeded. Please slow down."}},
		{"oversized image", image, models.Rejected(models.ReasonOversized), []string{"Image too large. Maximum size: 10MB"}},
		{"oversized text", text, models.Rejected(models.ReasonOversized), []string{"Message too long."}},
		{"empty text", text, models.Rejected(models.ReasonEmptyContent), nil},
		{"failed text", text, models.Failed(models.ReasonStorageError), []string{"Internal error occurred. Please try again later."}},
		{"failed image", image, models.Failed(models.ReasonCanceled), []string{"Failed to process image. Please try again."}},
		{"duplicate", text, models.Outcome{Status: models.StatusDuplicate}, nil},
		{"clean text", text, models.Outcome{Status: models.StatusProcessed, Verdict: clean}, nil},
		{"flagged text", text, models.Outcome{Status: models.StatusProcessed, Verdict: flagged}, []string{"Potential fraud detected! Please be careful."}},
		{"image without text", image, models.Outcome{Status: models.StatusProcessed, Verdict: clean}, []string{"Image processed, but no text was found."}},
		{"degraded image", image, models.Outcome{Status: models.StatusProcessed, Verdict: clean, Degraded: true}, []string{"Failed to process image. Please try again."}},
		{
			"flagged image", image,
			models.Outcome{Status: models.StatusProcessed, Verdict: flagged, Extracted: "send btc"},
			[]string{"Image processed! Extracted 8 characters of text.", "Potential fraud detected in image! Please be careful."},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Replies(tt.ev, tt.out, 10*1024*1024))
		})
	}
}
