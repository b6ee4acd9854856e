package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/avoronov/news-curator-bot/internal/bot"
	"github.com/avoronov/news-curator-bot/internal/bot/middleware"
	"github.com/avoronov/news-curator-bot/internal/botkit"
	"github.com/avoronov/news-curator-bot/internal/classify"
	"github.com/avoronov/news-curator-bot/internal/config"
	"github.com/avoronov/news-curator-bot/internal/dedup"
	"github.com/avoronov/news-curator-bot/internal/digest"
	"github.com/avoronov/news-curator-bot/internal/fetcher"
	"github.com/avoronov/news-curator-bot/internal/ingest"
	"github.com/avoronov/news-curator-bot/internal/notifier"
	"github.com/avoronov/news-curator-bot/internal/scheduler"
	"github.com/avoronov/news-curator-bot/internal/session"
	"github.com/avoronov/news-curator-bot/internal/storage"
)

func main() {
	// Создаем бота, используя токен из конфига
	botAPI, err := tgbotapi.NewBotAPI(config.Get().TelegramBotToken)
	if err != nil {
		log.Printf("failed to create bot: %v", err)
		return
	}

	// Инициализируем подключение к БД
	db, err := sqlx.Connect("postgres", config.Get().DatabaseDSN)
	if err != nil {
		log.Printf("failed to connect to database: %v", err)
		return
	}
	defer db.Close()

	// Инициализируем наши зависимости.
	// Классификатор выбирается здесь один раз и дальше везде ходит
	// через интерфейсы, никаких проверок типа в рантайме.
	var (
		newsStorage    = storage.NewNewsStorage(db)
		sourceStorage  = storage.NewSourcePostgresStorage(db)
		digestStorage  = storage.NewDigestSessionStorage(db)
		sessionStorage = storage.NewBotSessionStorage(db)

		sessionStore = session.NewStore(sessionStorage)

		classifier = classify.NewOpenAIClassifier(
			config.Get().OpenAIKey,
			config.Get().OpenAIPromt,
			config.Get().OpenAIModel,
		)

		resolver = dedup.NewResolver(
			newsStorage,
			classifier,
			config.Get().DedupWindow,
			config.Get().DedupMinRelevance,
			config.Get().DedupMaxCandidates,
		)

		gate = ingest.NewGate(
			newsStorage,
			sourceStorage,
			classifier,
			resolver,
			config.Get().ClassifyRetries,
			config.Get().ClassifyQueueSize,
		)

		poller = fetcher.NewFetcher(gate, sourceStorage, config.Get().FilterKeywords)

		digestManager = digest.NewManager(
			digestStorage,
			newsStorage,
			notifier.NewTelegramTransport(botAPI),
			sessionStore,
			config.Get().CuratorChatID,
			config.Get().DigestWindow,
			config.Get().DedupMinRelevance,
			config.Get().DigestMaxItems,
			config.Get().ReviewTTL,
		)
	)

	// Graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Фоновые джобы: опрос источников, сборка дайджеста, уборка сессий.
	// Планировщик сам следит, чтобы два запуска одной джобы не пересеклись.
	jobs := scheduler.New()
	jobs.Register("ingestPoll", config.Get().FetchInterval, poller.Fetch)
	jobs.Register("digestCompile", config.Get().DigestInterval, digestManager.Compile)
	jobs.Register("sessionSweep", config.Get().SweepInterval, sessionStore.Sweep)
	jobs.Register("classifyRescan", config.Get().RescanInterval, gate.RequeueUnscored)

	// Инициализируем нашего бота.
	// Команды управления дайджестом доступны только кураторам.
	newsBot := botkit.New(botAPI)
	newsBot.RegisterCmdView("start", bot.ViewCmdStart())
	newsBot.RegisterCmdView(
		"addsource",
		middleware.CuratorOnly(
			config.Get().CuratorChatID,
			bot.ViewCmdAddSource(sourceStorage),
		),
	)
	newsBot.RegisterCmdView("listsources", bot.ViewCmdListSources(sourceStorage))
	newsBot.RegisterCmdView(
		"deletesource",
		middleware.CuratorOnly(
			config.Get().CuratorChatID,
			bot.ViewCmdDeleteSource(sourceStorage),
		),
	)
	newsBot.RegisterCmdView(
		"digest",
		middleware.CuratorOnly(config.Get().CuratorChatID, bot.ViewCmdDigest(digestManager)),
	)
	newsBot.RegisterCmdView(
		"approve",
		middleware.CuratorOnly(config.Get().CuratorChatID, bot.ViewCmdApprove(digestManager)),
	)
	newsBot.RegisterCmdView(
		"removenews",
		middleware.CuratorOnly(config.Get().CuratorChatID, bot.ViewCmdRemoveNews(digestManager)),
	)
	newsBot.RegisterCmdView(
		"canceldigest",
		middleware.CuratorOnly(config.Get().CuratorChatID, bot.ViewCmdCancelDigest(digestManager)),
	)

	// Воркер классификации
	go func(ctx context.Context) {
		if err := gate.Start(ctx); err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Printf("[ERROR] classify worker stopped: %v", err)
				return
			}

			log.Println("classify worker stopped")
		}
	}(ctx)

	// Воркер планировщика
	go func(ctx context.Context) {
		if err := jobs.Start(ctx); err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Printf("[ERROR] scheduler stopped: %v", err)
				return
			}

			log.Println("scheduler stopped")
		}
	}(ctx)

	// Запуск бота
	if err := newsBot.Run(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			log.Printf("[ERROR] failed to start bot: %v", err)
			return
		}

		log.Println("bot stopped")
	}
}
