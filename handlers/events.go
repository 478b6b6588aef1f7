package handlers

import (
	"context"
	"sync"
	"time"

	"hunt-concierge/services"

	"github.com/gofiber/fiber/v2"
)

// EventDispatcher runs bridge events off the request goroutine so the
// webhook can acknowledge immediately.
type EventDispatcher struct {
	agent   *services.HuntAgent
	ctx     context.Context
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewEventDispatcher(ctx context.Context, agent *services.HuntAgent, timeout time.Duration) *EventDispatcher {
	return &EventDispatcher{agent: agent, ctx: ctx, timeout: timeout}
}

func (d *EventDispatcher) run(fn func(ctx context.Context)) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx := context.WithoutCancel(d.ctx)
		if d.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d.timeout)
			defer cancel()
		}
		fn(ctx)
	}()
}

// Wait blocks until every in-flight event has been handled.
func (d *EventDispatcher) Wait() {
	d.wg.Wait()
}

func SetupEventRoutes(router fiber.Router, d *EventDispatcher) {
	router.Post("/events/text", func(c *fiber.Ctx) error {
		var ev services.TextEvent
		if err := c.BodyParser(&ev); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid event body"})
		}
		if ev.GroupID == "" || ev.SenderID == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "group_id and sender_id are required"})
		}
		d.run(func(ctx context.Context) { d.agent.HandleText(ctx, ev) })
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "accepted"})
	})

	router.Post("/events/attachment", func(c *fiber.Ctx) error {
		var ev services.AttachmentEvent
		if err := c.BodyParser(&ev); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid event body"})
		}
		if ev.GroupID == "" || ev.SenderID == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "group_id and sender_id are required"})
		}
		d.run(func(ctx context.Context) { d.agent.HandleAttachment(ctx, ev) })
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "accepted"})
	})
}
