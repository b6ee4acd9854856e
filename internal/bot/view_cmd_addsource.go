package bot

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/avoronov/news-curator-bot/internal/botkit"
	"github.com/avoronov/news-curator-bot/internal/model"
)

type SourceStorage interface {
	Add(ctx context.Context, source model.Source) (int64, error)
}

// Команда добавления источника.
// Аргументы приходят json-ом: {"name": "...", "channel_id": "..."}
func ViewCmdAddSource(storage SourceStorage) botkit.ViewFunc {
	type addSourceArgs struct {
		Name      string `json:"name"`
		ChannelID string `json:"channel_id"`
	}
	return func(ctx context.Context, bot *tgbotapi.BotAPI, update tgbotapi.Update) error {
		args, err := botkit.ParseJSON[addSourceArgs](update.Message.CommandArguments())
		if err != nil {
			return err
		}

		if args.Name == "" || args.ChannelID == "" {
			return fmt.Errorf("name and channel_id are required: %w", model.ErrValidation)
		}

		sourceID, err := storage.Add(ctx, model.Source{
			Name:      args.Name,
			ChannelID: args.ChannelID,
		})
		if err != nil {
			return err
		}

		var (
			msgText = fmt.Sprintf(
				"Источник добавлен с ID: `%d`\\. Используйте этот ID для управления источником\\.",
				sourceID,
			)
			reply = tgbotapi.NewMessage(update.Message.Chat.ID, msgText)
		)

		reply.ParseMode = tgbotapi.ModeMarkdownV2

		if _, err := bot.Send(reply); err != nil {
			return err
		}

		return nil
	}
}
