package bot

import (
	"context"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
)

// Bot runs a Telegram long-poll loop and feeds every message through the
// dispatcher. Caller identity is the numeric Telegram user id.
type Bot struct {
	api        *tgbotapi.BotAPI
	dispatcher *Dispatcher
	log        *logrus.Logger
}

func New(token string, d *Dispatcher, log *logrus.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.New()
	}
	return &Bot{api: api, dispatcher: d, log: log}, nil
}

// Run polls for updates until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)

	b.log.WithField("bot", b.api.Self.UserName).Info("telegram bot started")

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil || update.Message.From == nil {
				continue
			}
			b.handle(update.Message)
		}
	}
}

func (b *Bot) handle(msg *tgbotapi.Message) {
	caller := strconv.FormatInt(msg.From.ID, 10)
	reply := b.dispatcher.Dispatch(caller, msg.Text)
	if reply == "" {
		return
	}
	if _, err := b.api.Send(tgbotapi.NewMessage(msg.Chat.ID, reply)); err != nil {
		b.log.WithFields(logrus.Fields{"chat_id": msg.Chat.ID, "error": err}).Error("send reply failed")
	}
}
