package delivery

import (
	"encoding/json"
	"sync"

	"github.com/valyala/bytebufferpool"
	"go.uber.org/zap"

	"converse/pkg/logger"
	"converse/pkg/models"
	"converse/pkg/store"
	"converse/pkg/telemetry"
)

// frame is the wire envelope pushed to websocket clients.
type frame struct {
	Event        string         `json:"event"`
	Conversation string         `json:"conversation"`
	Message      models.Message `json:"message"`
}

// Fanout consumes the delivery queue with a worker pool, pushes frames
// through the hub and confirms each successful handoff via the confirm
// callback so the tracker can advance message status.
type Fanout struct {
	queue   *Queue
	hub     *Hub
	workers int
	confirm func(messageID, recipient string) error

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewFanout wires a queue to a hub. confirm may not be nil.
func NewFanout(q *Queue, hub *Hub, workers int, confirm func(messageID, recipient string) error) *Fanout {
	if workers <= 0 {
		workers = 4
	}
	return &Fanout{queue: q, hub: hub, workers: workers, confirm: confirm, stop: make(chan struct{})}
}

// Start launches the worker pool.
func (f *Fanout) Start() {
	for i := 0; i < f.workers; i++ {
		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			f.queue.RunWorker(f.stop, f.handle)
		}()
	}
	logger.Info("fanout_started", zap.Int("workers", f.workers))
}

// Stop signals the workers and waits for them to drain.
func (f *Fanout) Stop() {
	close(f.stop)
	f.wg.Wait()
	logger.Info("fanout_stopped")
}

func (f *Fanout) handle(n *Notice) error {
	payload := n.Payload
	if len(payload) == 0 {
		m, err := store.GetMessage(n.Message)
		if err != nil {
			logger.Warn("fanout_message_load_failed", zap.String("message", n.Message), zap.Error(err))
			return err
		}
		bb := bytebufferpool.Get()
		defer bytebufferpool.Put(bb)
		if err := json.NewEncoder(bb).Encode(frame{
			Event:        "message",
			Conversation: n.Conversation,
			Message:      m.Redacted(),
		}); err != nil {
			return err
		}
		payload = bb.B
	}

	delivered := f.hub.Deliver(n.Recipients, payload)
	if len(delivered) == 0 {
		telemetry.DeliveryUnavailable.Inc()
		logger.Debug("fanout_no_recipient_online",
			zap.String("conversation", n.Conversation),
			zap.String("message", n.Message),
		)
		return models.ErrDeliveryUnavailable
	}
	for _, uid := range delivered {
		if err := f.confirm(n.Message, uid); err != nil {
			logger.Warn("delivery_confirm_failed",
				zap.String("message", n.Message),
				zap.String("user", uid),
				zap.Error(err),
			)
		}
	}
	return nil
}
