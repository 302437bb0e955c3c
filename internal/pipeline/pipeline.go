package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/nftwatch/salesbot/internal/dedupe"
	"github.com/nftwatch/salesbot/internal/model"
)

// DefaultGroupWindow is how long transfers for one transaction are collected
// before the transaction is processed. Activity pushes for a sweep arrive as
// separate events within a second or two of each other.
const DefaultGroupWindow = 2 * time.Second

// Job is one transaction's worth of grouped transfers, ready for
// classification.
type Job struct {
	TxHash    string
	Transfers []model.TransferEvent
}

type priceClassifier interface {
	Classify(ctx context.Context, txHash common.Hash) model.PriceResult
}

type imageResolver interface {
	ResolveImageURL(ctx context.Context, tokenID string) (string, bool)
	DownloadImage(ctx context.Context, tokenID string) ([]byte, string, bool)
}

type saleNotifier interface {
	NotifySale(sale model.SaleRecord) error
}

// Pipeline turns raw transfer events into sale notifications. Events are
// grouped per transaction for a short window, then classified, admitted
// through the dedupe set and handed to the notifier by a worker pool.
type Pipeline struct {
	classifier  priceClassifier
	seen        *dedupe.SeenSet
	resolver    imageResolver
	notifier    saleNotifier
	groupWindow time.Duration

	mu      sync.Mutex
	pending map[string]*pendingGroup

	queue chan Job
}

type pendingGroup struct {
	transfers []model.TransferEvent
	members   map[string]struct{}
	timer     *time.Timer
}

func New(
	classifier priceClassifier,
	seen *dedupe.SeenSet,
	resolver imageResolver,
	notifier saleNotifier,
	queueCapacity int,
	groupWindow time.Duration,
) *Pipeline {
	if queueCapacity <= 0 {
		queueCapacity = 100
	}
	if groupWindow <= 0 {
		groupWindow = DefaultGroupWindow
	}
	return &Pipeline{
		classifier:  classifier,
		seen:        seen,
		resolver:    resolver,
		notifier:    notifier,
		groupWindow: groupWindow,
		pending:     make(map[string]*pendingGroup),
		queue:       make(chan Job, queueCapacity),
	}
}

// Submit adds one transfer event. The first event for a transaction opens a
// grouping window; every event for the same transaction that arrives before
// the window closes joins the same job. A redelivered transfer joins its
// group only once: the webhook and the poller can both report the same log.
func (p *Pipeline) Submit(ev model.TransferEvent) {
	txHash := strings.ToLower(ev.TxHash)
	if txHash == "" {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	group, ok := p.pending[txHash]
	if !ok {
		group = &pendingGroup{members: make(map[string]struct{})}
		group.timer = time.AfterFunc(p.groupWindow, func() {
			p.flush(txHash)
		})
		p.pending[txHash] = group
	}

	member := fmt.Sprintf("%s:%d", ev.TokenID, ev.LogIndex)
	if _, seen := group.members[member]; seen {
		return
	}
	group.members[member] = struct{}{}
	group.transfers = append(group.transfers, ev)
}

func (p *Pipeline) flush(txHash string) {
	p.mu.Lock()
	group, ok := p.pending[txHash]
	delete(p.pending, txHash)
	p.mu.Unlock()
	if !ok {
		return
	}

	job := Job{TxHash: txHash, Transfers: group.transfers}
	select {
	case p.queue <- job:
	default:
		zap.L().Warn("Pipeline queue full, dropping transaction",
			zap.String("txHash", txHash),
			zap.Int("transfers", len(job.Transfers)))
	}
}

// Start launches the worker pool and blocks until the context is cancelled.
func (p *Pipeline) Start(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 2
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-p.queue:
					p.process(ctx, job)
				}
			}
		}()
	}
	wg.Wait()
}

func (p *Pipeline) process(ctx context.Context, job Job) {
	price := p.classifier.Classify(ctx, common.HexToHash(job.TxHash))
	if !price.IsSale() {
		zap.L().Debug("Transaction carried no detectable payment, skipping",
			zap.String("txHash", job.TxHash))
		return
	}

	if !p.seen.Admit(job.TxHash) {
		zap.L().Debug("Transaction already notified, skipping",
			zap.String("txHash", job.TxHash))
		return
	}

	sale := model.SaleRecord{
		TxHash: job.TxHash,
		Price:  price,
	}
	for _, tr := range job.Transfers {
		if tr.BlockNumber > sale.BlockNumber {
			sale.BlockNumber = tr.BlockNumber
		}
		sale.TokenIDs = append(sale.TokenIDs, tr.TokenID)
	}

	if len(sale.TokenIDs) > 0 {
		tokenID := sale.TokenIDs[0]
		if url, ok := p.resolver.ResolveImageURL(ctx, tokenID); ok {
			sale.ImageURL = url
		}
		if data, name, ok := p.resolver.DownloadImage(ctx, tokenID); ok {
			sale.ImageData = data
			sale.ImageName = name
		}
	}

	zap.L().Info("Sale detected",
		zap.String("txHash", sale.TxHash),
		zap.Int("tokens", sale.TokenCount()),
		zap.String("price", price.Amount.String()+" wei "+price.Currency.String()))

	if err := p.notifier.NotifySale(sale); err != nil {
		zap.L().Error("Sale notification failed",
			zap.String("txHash", sale.TxHash),
			zap.Error(err))
	}
}
