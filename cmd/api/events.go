package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/askgeorge/askgeorge/engine/domain"
	"github.com/askgeorge/askgeorge/engine/ingest"
	"github.com/askgeorge/askgeorge/engine/rag"
	"github.com/askgeorge/askgeorge/pkg/natsutil"
)

const (
	subjectAsk   = "askgeorge.ask"
	subjectTurns = "askgeorge.turns"
	askQueue     = "askgeorge-api"
)

// AskRequest is the NATS request body on askgeorge.ask.
type AskRequest struct {
	Question string        `json:"question"`
	TopK     int           `json:"top_k,omitempty"`
	Rerank   bool          `json:"rerank,omitempty"`
	Mode     string        `json:"mode,omitempty"`
	History  []domain.Turn `json:"history,omitempty"`
}

// TurnEvent is published on askgeorge.turns after every answer.
type TurnEvent struct {
	SessionID string       `json:"session_id,omitempty"`
	Question  string       `json:"question"`
	Answer    string       `json:"answer"`
	Label     domain.Label `json:"label"`
	Mode      string       `json:"mode"`
	At        time.Time    `json:"at"`
}

// serveAsk answers questions over NATS request/reply.
func serveAsk(nc *nats.Conn, answers answerer, logger *slog.Logger) (*nats.Subscription, error) {
	return natsutil.Respond(nc, subjectAsk, askQueue, logger, func(ctx context.Context, req AskRequest) (*rag.Answer, error) {
		return answers.Ask(ctx, rag.Request{
			Question: req.Question,
			TopK:     req.TopK,
			Rerank:   req.Rerank,
			Mode:     req.Mode,
			History:  req.History,
		})
	})
}

// purger drops cached chunk text.
type purger interface {
	Purge()
}

// purgeOnIndex empties the chunk cache whenever the indexer reports a run.
func purgeOnIndex(nc *nats.Conn, chunks purger, logger *slog.Logger) (*nats.Subscription, error) {
	return natsutil.Subscribe(nc, ingest.SubjectIndexed, logger, func(_ context.Context, ev ingest.IndexedEvent) {
		chunks.Purge()
		logger.Info("chunk cache purged after reindex", "collection", ev.Collection, "indexed", ev.Indexed, "pruned", ev.Pruned)
	})
}

// turnPublisher returns a best-effort publisher for turn events.
func turnPublisher(nc *nats.Conn, logger *slog.Logger) func(context.Context, TurnEvent) {
	return func(ctx context.Context, ev TurnEvent) {
		if err := natsutil.Publish(ctx, nc, subjectTurns, ev); err != nil {
			logger.Warn("publish turn", "err", err)
		}
	}
}
