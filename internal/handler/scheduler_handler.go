package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
)

const schedulerStopTimeout = 30 * time.Second

// SchedulerControl is the runtime lifecycle surface of the dispatch loop.
type SchedulerControl interface {
	Start() error
	Stop(ctx context.Context) error
	Running() bool
}

type SchedulerHandler struct {
	scheduler SchedulerControl
}

func NewSchedulerHandler(scheduler SchedulerControl) (*SchedulerHandler, error) {
	if scheduler == nil {
		return nil, fmt.Errorf("scheduler is required")
	}
	return &SchedulerHandler{scheduler: scheduler}, nil
}

func RegisterSchedulerRoutes(router fiber.Router, scheduler SchedulerControl) error {
	h, err := NewSchedulerHandler(scheduler)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Get("/scheduler", h.GetStatus)
	v1.Post("/scheduler/start", h.Start)
	v1.Post("/scheduler/stop", h.Stop)

	return nil
}

func (h *SchedulerHandler) GetStatus(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"running": h.scheduler.Running(),
	})
}

func (h *SchedulerHandler) Start(c *fiber.Ctx) error {
	if err := h.scheduler.Start(); err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"running": true,
	})
}

func (h *SchedulerHandler) Stop(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), schedulerStopTimeout)
	defer cancel()

	if err := h.scheduler.Stop(ctx); err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"running": false,
	})
}
