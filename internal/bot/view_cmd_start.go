package bot

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/avoronov/news-curator-bot/internal/botkit"
)

func ViewCmdStart() botkit.ViewFunc {
	return func(ctx context.Context, bot *tgbotapi.BotAPI, update tgbotapi.Update) error {
		msgText := "Привет! Я собираю новости из источников и отдаю их на ревью.\n\n" +
			"/digest - собрать и прислать дайджест\n" +
			"/approve - одобрить текущий дайджест\n" +
			"/removenews <id> - убрать новость из дайджеста\n" +
			"/canceldigest - отменить ревью\n" +
			"/listsources - список источников\n" +
			"/addsource - добавить источник"

		if _, err := bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, msgText)); err != nil {
			return err
		}

		return nil
	}
}
