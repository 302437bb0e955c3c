package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/nftwatch/salesbot/internal/config"
	"github.com/nftwatch/salesbot/internal/dedupe"
	"github.com/nftwatch/salesbot/internal/eth"
	"github.com/nftwatch/salesbot/internal/nft"
	"github.com/nftwatch/salesbot/internal/notify"
	"github.com/nftwatch/salesbot/internal/pipeline"
	"github.com/nftwatch/salesbot/internal/webhook"
)

var Version = "dev" // Overridden by release build script

func init() {
	logger := zap.Must(zap.NewProduction())
	if config.Get().LogZapMode == "development" {
		logger = zap.Must(zap.NewDevelopment())
	}
	zap.ReplaceGlobals(logger)
}

func main() {
	zap.L().Info("Starting nftwatch/salesbot...",
		zap.String("Version", Version))

	cfg := config.Get()
	if cfg.DiscordBotToken == "" {
		zap.L().Fatal("DISCORD_BOT_TOKEN is not set")
	}
	if cfg.DiscordChannelID == "" {
		zap.L().Fatal("DISCORD_CHANNEL_ID is not set")
	}
	if cfg.NftContractAddress == "" {
		zap.L().Fatal("NFT_CONTRACT_ADDRESS is not set")
	}
	if cfg.AlchemyApiKey == "" && cfg.EthereumNodeUrl == "" {
		zap.L().Fatal("Neither ALCHEMY_API_KEY nor ETHEREUM_NODE_URL is set")
	}

	// Main context: canceled when we want to stop normal operation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := eth.CreateEthClient()
	if err != nil {
		zap.L().Fatal("Failed to create Ethereum client", zap.Error(err))
	}

	nftContract := common.HexToAddress(cfg.NftContractAddress)
	wethAddress := cfg.WethContractAddress
	if wethAddress == "" {
		wethAddress = eth.DefaultWethAddress
	}

	classifier := eth.NewDefaultPriceClassifier(client, nftContract, common.HexToAddress(wethAddress))
	scanner := eth.NewScanner(client, classifier, nftContract, cfg.ScanChunkSize, cfg.ScanMaxChunks)
	resolver := nft.NewResolver(nft.NewAlchemyMetadataClient(cfg.AlchemyApiKey, cfg.NftContractAddress))

	session, err := discordgo.New("Bot " + cfg.DiscordBotToken)
	if err != nil {
		zap.L().Fatal("Failed to create Discord session", zap.Error(err))
	}
	session.AddHandler(notify.NewLastSaleHandler(scanner, resolver))
	if err := session.Open(); err != nil {
		zap.L().Fatal("Failed to open Discord session", zap.Error(err))
	}

	appID := cfg.DiscordAppID
	if appID == "" && session.State.User != nil {
		appID = session.State.User.ID
	}
	if err := notify.RegisterCommands(session, appID, cfg.DiscordGuildID); err != nil {
		zap.L().Error("Failed to register application commands", zap.Error(err))
	}

	notifier := notify.NewNotifier(session, cfg.DiscordChannelID)
	pipe := pipeline.New(
		classifier,
		dedupe.NewSeenSet(),
		resolver,
		notifier,
		cfg.PipelineQueueCapacity,
		pipeline.DefaultGroupWindow,
	)
	go pipe.Start(ctx, cfg.PipelineWorkers)

	closeWebhookServer := webhook.NewServer(cfg.NftContractAddress, cfg.WebhookSecret, pipe.Submit).
		Start(ctx, cfg.WebhookPort)

	if cfg.PollEnabled {
		interval := time.Duration(cfg.PollIntervalSeconds) * time.Second
		if interval <= 0 {
			interval = 60 * time.Second
		}
		go scanner.Poll(ctx, interval, pipe.Submit)
	}

	// Catch up to two signals: first for graceful, second to force
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	doneCh := make(chan struct{})

	go func() {
		<-sigCh
		zap.L().Info("Received shutdown signal, initiating graceful shutdown...")

		// 1. Stop new webhook requests
		closeWebhookServer()

		// 2. Cancel main context, telling background tasks to stop
		cancel()

		// 3. Close the Discord session
		if err := session.Close(); err != nil {
			zap.L().Warn("Error closing Discord session", zap.Error(err))
		}

		// 4. Close the Ethereum client
		client.Close()

		// 5. Signal that cleanup is done
		close(doneCh)

		// If a second signal arrives, force an immediate exit
		<-sigCh
		zap.L().Error("Received second signal, forcing shutdown")
		os.Exit(1)
	}()

	// Wait for either normal context cancellation or graceful shutdown completion
	select {
	case <-ctx.Done():
	case <-doneCh:
	}

	zap.L().Info("Shutdown complete")
	_ = zap.L().Sync()
}
