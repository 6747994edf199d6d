package delivery

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"
)

// telegramSender posts to a chat through the Bot API. The bot is created
// offline, so no getMe round-trip happens at startup.
type telegramSender struct {
	bot *tele.Bot
}

func newTelegramSender(cfg Config, client *http.Client) (*telegramSender, error) {
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.TelegramToken,
		URL:     cfg.TelegramAPI,
		Client:  client,
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	return &telegramSender{bot: b}, nil
}

func (s *telegramSender) send(ctx context.Context, cfg Config, t Target, msg Message) result {
	if err := ctx.Err(); err != nil {
		return result{kind: resTransport, err: err}
	}
	chat := &tele.Chat{ID: t.ChatID}
	opts := &tele.SendOptions{ThreadID: t.ThreadID, ParseMode: tele.ModeHTML}

	var what any
	switch {
	case msg.Content != "" && msg.Title == "":
		what = msg.Content
		opts.ParseMode = tele.ModeDefault
	case msg.ImageURL != "":
		what = &tele.Photo{File: tele.FromURL(msg.ImageURL), Caption: telegramCaption(msg)}
	default:
		what = telegramCaption(msg)
	}

	_, err := s.bot.Send(chat, what, opts)
	if err == nil {
		return result{kind: resOK, status: http.StatusOK}
	}
	return classifyTelegramError(err)
}

func telegramCaption(msg Message) string {
	var b strings.Builder
	b.WriteString("<b>")
	b.WriteString(htmlEscaper.Replace(msg.Title))
	b.WriteString("</b>")
	if msg.URL != "" {
		b.WriteString("\n")
		b.WriteString(htmlEscaper.Replace(msg.URL))
	}
	return b.String()
}

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func classifyTelegramError(err error) result {
	var flood tele.FloodError
	if errors.As(err, &flood) {
		r := result{kind: resRateLimited, status: http.StatusTooManyRequests, err: err}
		if flood.RetryAfter > 0 {
			r.retryAfter, r.hasRetryAfter = time.Duration(flood.RetryAfter)*time.Second, true
		}
		return r
	}
	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		r := result{status: apiErr.Code, detail: truncate(apiErr.Description, detailLimit), err: err}
		switch {
		case apiErr.Code == http.StatusForbidden, apiErr.Code == http.StatusNotFound,
			errors.Is(err, tele.ErrChatNotFound):
			r.kind = resGone
		default:
			r.kind = resFailed
		}
		return r
	}
	return result{kind: resTransport, err: err}
}
