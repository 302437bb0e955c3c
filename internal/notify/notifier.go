package notify

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/nftwatch/salesbot/internal/model"
)

const (
	etherscanTxURL = "https://etherscan.io/tx/"
	embedFooter    = "NFT Sales Monitor"

	// At most this many token ids are listed on one embed; the rest are
	// summarized as a count.
	maxListedTokenIDs = 10
)

// messageSender is the slice of the discord session the notifier needs.
type messageSender interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Notifier posts sale embeds to a single channel. Delivery is best-effort:
// an attachment upload that fails falls back to a URL-only embed, and a
// failure of both is logged, never fatal.
type Notifier struct {
	sender    messageSender
	channelID string
}

func NewNotifier(sender messageSender, channelID string) *Notifier {
	return &Notifier{sender: sender, channelID: channelID}
}

func (n *Notifier) NotifySale(sale model.SaleRecord) error {
	embed := buildSaleEmbed(sale)

	if len(sale.ImageData) > 0 && sale.ImageName != "" {
		embed.Image = &discordgo.MessageEmbedImage{URL: "attachment://" + sale.ImageName}
		_, err := n.sender.ChannelMessageSendComplex(n.channelID, &discordgo.MessageSend{
			Embeds: []*discordgo.MessageEmbed{embed},
			Files: []*discordgo.File{{
				Name:   sale.ImageName,
				Reader: bytes.NewReader(sale.ImageData),
			}},
		})
		if err == nil {
			return nil
		}
		zap.L().Warn("Attachment delivery failed, falling back to image URL",
			zap.String("txHash", sale.TxHash),
			zap.Error(err))
	}

	embed.Image = nil
	if sale.ImageURL != "" {
		embed.Image = &discordgo.MessageEmbedImage{URL: sale.ImageURL}
	}
	_, err := n.sender.ChannelMessageSendComplex(n.channelID, &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{embed},
	})
	if err != nil {
		zap.L().Error("Could not deliver sale notification",
			zap.String("txHash", sale.TxHash),
			zap.Error(err))
		return err
	}
	return nil
}

func buildSaleEmbed(sale model.SaleRecord) *discordgo.MessageEmbed {
	title, color := SweepLabel(sale.TokenCount())

	embed := &discordgo.MessageEmbed{
		Title:       title,
		Description: FormatPrice(sale.Price),
		Color:       color,
		Fields: []*discordgo.MessageEmbedField{
			{
				Name:  "Transaction",
				Value: fmt.Sprintf("[%s](%s%s)", shortHash(sale.TxHash), etherscanTxURL, sale.TxHash),
			},
			tokenIDField(sale.TokenIDs),
		},
		Footer: &discordgo.MessageEmbedFooter{Text: embedFooter},
	}
	return embed
}

func tokenIDField(tokenIDs []string) *discordgo.MessageEmbedField {
	name := "Token ID"
	if len(tokenIDs) > 1 {
		name = "Token IDs"
	}

	listed := tokenIDs
	var extra int
	if len(listed) > maxListedTokenIDs {
		extra = len(listed) - maxListedTokenIDs
		listed = listed[:maxListedTokenIDs]
	}
	value := strings.Join(listed, ", ")
	if extra > 0 {
		value += fmt.Sprintf(" +%d more", extra)
	}
	if value == "" {
		value = "unknown"
	}
	return &discordgo.MessageEmbedField{Name: name, Value: value}
}

func shortHash(txHash string) string {
	if len(txHash) <= 14 {
		return txHash
	}
	return txHash[:10] + "..." + txHash[len(txHash)-4:]
}
