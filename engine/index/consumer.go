package index

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/nats-io/nats.go"

	"github.com/trovekb/trove/engine/domain"
	"github.com/trovekb/trove/pkg/natsutil"
	"github.com/trovekb/trove/pkg/resilience"
)

const (
	// UpsertSubject carries problem create and update events.
	UpsertSubject = "trove.problem.upserted"
	// DeleteSubject carries problem delete events.
	DeleteSubject = "trove.problem.deleted"
	// DLQSubject takes upserts that failed MaxRetries times.
	DLQSubject = "trove.index.dlq"
	// MaxRetries is how many redeliveries an upsert gets before the DLQ.
	MaxRetries = 3

	retryCountHeader = "X-Retry-Count"
)

// DeleteEvent is the payload published when a problem is removed.
type DeleteEvent struct {
	ID string `json:"id"`
}

// dlqMessage wraps a problem that exhausted its retries.
type dlqMessage struct {
	Problem domain.Problem `json:"problem"`
	Error   string         `json:"error"`
	Retries int            `json:"retries"`
}

// ConsumerOpts configures the event consumer.
type ConsumerOpts struct {
	// Limiter paces upsert processing so an event burst cannot
	// flood the encoder. Nil disables pacing.
	Limiter *resilience.Limiter
	Logger  *slog.Logger
}

// StartConsumer subscribes the indexer to problem events. Upserts run
// through the pipeline with retry and DLQ support; deletes cascade to
// the vector store.
func StartConsumer(nc *nats.Conn, ix *Indexer, opts ConsumerOpts) ([]*nats.Subscription, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	upserts, err := nc.Subscribe(UpsertSubject, func(msg *nats.Msg) {
		var p domain.Problem
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			log.Error("index: unmarshal failed", "err", err)
			return
		}

		ctx := context.Background()
		if opts.Limiter != nil {
			if err := opts.Limiter.Wait(ctx); err != nil {
				log.Error("index: limiter wait", "err", err)
				return
			}
		}

		retries := 0
		if msg.Header != nil {
			if v := msg.Header.Get(retryCountHeader); v != "" {
				retries, _ = strconv.Atoi(v)
			}
		}

		if _, err := ix.Index(ctx, p); err != nil {
			retries++
			log.Error("index: upsert failed", "id", p.ID, "retry", retries, "err", err)

			if retries >= MaxRetries {
				dlq := dlqMessage{Problem: p, Error: err.Error(), Retries: retries}
				data, _ := json.Marshal(dlq)
				if err := nc.Publish(DLQSubject, data); err != nil {
					log.Error("index: DLQ publish failed", "err", err)
				}
			} else {
				retry := nats.NewMsg(UpsertSubject)
				retry.Data = msg.Data
				retry.Header = nats.Header{}
				retry.Header.Set(retryCountHeader, strconv.Itoa(retries))
				if err := nc.PublishMsg(retry); err != nil {
					log.Error("index: retry publish failed", "err", err)
				}
			}
		}

		if msg.Reply != "" {
			_ = msg.Ack()
		}
	})
	if err != nil {
		return nil, fmt.Errorf("index: subscribe %s: %w", UpsertSubject, err)
	}

	deletes, err := natsutil.Subscribe(nc, DeleteSubject, func(ctx context.Context, ev DeleteEvent) {
		if ev.ID == "" {
			log.Error("index: delete event without id")
			return
		}
		if err := ix.Remove(ctx, ev.ID); err != nil {
			log.Error("index: delete failed", "id", ev.ID, "err", err)
		}
	})
	if err != nil {
		_ = upserts.Unsubscribe()
		return nil, fmt.Errorf("index: subscribe %s: %w", DeleteSubject, err)
	}

	return []*nats.Subscription{upserts, deletes}, nil
}
