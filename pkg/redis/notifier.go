package redis

import (
	"context"
	"encoding/hex"
	"encoding/json"

	"go.uber.org/zap"

	models "github.com/canopy-network/utxo-exporter/pkg/db/models/distribution"
	"github.com/canopy-network/utxo-exporter/pkg/distribution"
)

// DefaultChannel receives one message per committed run.
const DefaultChannel = "utxo-exporter:run.committed"

// Publisher is the part of Client used by Notifier.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{})
}

// TopEntryMessage is a ranked entry with its identity hex encoded.
type TopEntryMessage struct {
	Rank     int32  `json:"rank"`
	Identity string `json:"identity"`
	Amount   int64  `json:"amount"`
}

// RunCommitted is published after a run has been committed.
type RunCommitted struct {
	Timestamp        int64                     `json:"timestamp"`
	Tiers            []models.DistributionTier `json:"tiers"`
	TopEntries       []TopEntryMessage         `json:"top_entries"`
	CommittedTargets []string                  `json:"committed_targets"`
}

// NewRunCommitted builds the message for result.
func NewRunCommitted(result *distribution.RunResult, committed []string) RunCommitted {
	msg := RunCommitted{
		Timestamp:        result.Timestamp,
		Tiers:            result.TierRows(),
		TopEntries:       make([]TopEntryMessage, 0, len(result.TopEntries)),
		CommittedTargets: committed,
	}
	if msg.CommittedTargets == nil {
		msg.CommittedTargets = []string{}
	}
	for _, e := range result.TopEntries {
		msg.TopEntries = append(msg.TopEntries, TopEntryMessage{
			Rank:     e.Rank,
			Identity: hex.EncodeToString(e.Identity),
			Amount:   e.Amount,
		})
	}
	return msg
}

// Notifier publishes RunCommitted messages. A nil *Notifier does nothing.
type Notifier struct {
	publisher Publisher
	channel   string
	logger    *zap.Logger
}

func NewNotifier(publisher Publisher, channel string, logger *zap.Logger) *Notifier {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{publisher: publisher, channel: channel, logger: logger}
}

// RunCommitted publishes the summary of a committed run.
func (n *Notifier) RunCommitted(ctx context.Context, result *distribution.RunResult, committed []string) {
	if n == nil || n.publisher == nil {
		return
	}
	payload, err := json.Marshal(NewRunCommitted(result, committed))
	if err != nil {
		n.logger.Warn("Failed to encode run notification", zap.Error(err))
		return
	}
	n.publisher.Publish(ctx, n.channel, payload)
	n.logger.Debug("Published run notification",
		zap.String("channel", n.channel),
		zap.Int64("timestamp", result.Timestamp))
}
