package notify

import (
	"context"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/nftwatch/salesbot/internal/eth"
	"github.com/nftwatch/salesbot/internal/model"
)

const lastSaleCommandName = "lastsale"

// lastSaleScanner finds the most recent secondary sale by scanning the chain
// backwards.
type lastSaleScanner interface {
	LastSale(ctx context.Context) (*eth.ScanResult, bool, error)
}

type imageURLResolver interface {
	ResolveImageURL(ctx context.Context, tokenID string) (string, bool)
}

// RegisterCommands creates the bot's application commands. Guild-scoped when
// a guild id is configured, global otherwise.
func RegisterCommands(s *discordgo.Session, appID, guildID string) error {
	_, err := s.ApplicationCommandCreate(appID, guildID, &discordgo.ApplicationCommand{
		Name:        lastSaleCommandName,
		Description: "Show the most recent sale of the watched collection",
	})
	return err
}

// NewLastSaleHandler returns the interaction handler for the lastsale
// command. The scan can take a while, so the interaction is deferred first.
func NewLastSaleHandler(scanner lastSaleScanner, resolver imageURLResolver) func(*discordgo.Session, *discordgo.InteractionCreate) {
	return func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		if i.Type != discordgo.InteractionApplicationCommand {
			return
		}
		if i.ApplicationCommandData().Name != lastSaleCommandName {
			return
		}

		err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		})
		if err != nil {
			zap.L().Error("Could not defer lastsale interaction", zap.Error(err))
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		content := lastSaleResponse(ctx, scanner, resolver)
		if _, err := s.FollowupMessageCreate(i.Interaction, true, content); err != nil {
			zap.L().Error("Could not send lastsale followup", zap.Error(err))
		}
	}
}

func lastSaleResponse(ctx context.Context, scanner lastSaleScanner, resolver imageURLResolver) *discordgo.WebhookParams {
	result, found, err := scanner.LastSale(ctx)
	if err != nil {
		zap.L().Error("Last sale scan failed", zap.Error(err))
		return &discordgo.WebhookParams{Content: "Could not look up the last sale, try again later."}
	}
	if !found {
		return &discordgo.WebhookParams{Content: "No recent sale found in the scanned block range."}
	}

	sale := model.SaleRecord{
		TxHash:      result.TxHash,
		BlockNumber: result.BlockNumber,
		Price:       result.Price,
	}
	for _, tr := range result.Transfers {
		sale.TokenIDs = append(sale.TokenIDs, tr.TokenID)
	}
	if len(sale.TokenIDs) > 0 {
		if url, ok := resolver.ResolveImageURL(ctx, sale.TokenIDs[0]); ok {
			sale.ImageURL = url
		}
	}

	embed := buildSaleEmbed(sale)
	if sale.ImageURL != "" {
		embed.Image = &discordgo.MessageEmbedImage{URL: sale.ImageURL}
	}
	return &discordgo.WebhookParams{Embeds: []*discordgo.MessageEmbed{embed}}
}
