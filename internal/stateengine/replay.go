package stateengine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/fluxlabs/flux/internal/eventlog"
	"github.com/fluxlabs/flux/internal/fluxevent"
)

const (
	replayConsumerName = "flux-state-engine"
	replayIdleTimeout  = 500 * time.Millisecond
)

// Run attaches the replay subscriber: on cold start (startSequence == nil)
// it resets the durable consumer to guarantee a full replay; on resume it
// attaches from startSequence+1. It applies messages to the engine until
// ctx is canceled, flipping the engine live after the first idle gap.
func Run(ctx context.Context, engine *Engine, log eventlog.Log, subjectWildcard string, startSequence *uint64) error {
	var delivery eventlog.Delivery
	if startSequence == nil {
		if err := log.ResetConsumer(ctx, replayConsumerName, eventlog.DeliverAll()); err != nil {
			return err
		}
		delivery = eventlog.DeliverAll()
	} else {
		delivery = eventlog.DeliverByStartSequence(*startSequence)
	}

	msgs, err := log.SubscribeFrom(ctx, subjectWildcard, replayConsumerName, delivery)
	if err != nil {
		return err
	}

	wentLive := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			applyMessage(ctx, engine, msg)
		case <-time.After(replayIdleTimeout):
			if !wentLive {
				engine.SetLive(ctx)
				wentLive = true
			}
		}
	}
}

func applyMessage(ctx context.Context, engine *Engine, msg eventlog.Message) {
	var evt fluxevent.Event
	if err := json.Unmarshal(msg.Data, &evt); err != nil {
		engine.logger.WithContext(ctx).WithError(err).Warn("malformed event in log, skipping")
		_ = msg.Ack()
		engine.lastProcessedSequence.Store(msg.Sequence)
		return
	}

	engine.ProcessEvent(ctx, evt.EntityID(), evt.IsTombstone(), evt.Properties(), msg.Sequence)
	_ = msg.Ack()
}
