package handlers

import (
	"errors"
	"time"

	"hunt-concierge/services"

	"github.com/gofiber/fiber/v2"
)

func SetupHuntRoutes(router fiber.Router, catalog *services.CatalogService, store *services.ProgressStore, assigner *services.GroupAssigner, loc *time.Location) {
	// Menu action: join a hunt group
	router.Post("/participants/:id/assign", func(c *fiber.Ctx) error {
		participantID := c.Params("id")
		group, err := assigner.Assign(c.UserContext(), participantID)
		switch {
		case err == nil:
			return c.JSON(fiber.Map{"assigned": true, "group": group, "message": assigner.Reply(nil)})
		case errors.Is(err, services.ErrGroupCapacityExceeded):
			return c.JSON(fiber.Map{"assigned": false, "message": assigner.Reply(err)})
		default:
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
				"assigned": false,
				"error":    "failed to assign hunt group",
				"message":  assigner.Reply(err),
			})
		}
	})

	router.Get("/participants/:id/hunts/:date/progress", func(c *fiber.Ctx) error {
		view, err := store.Progress(c.UserContext(), c.Params("id"), c.Params("date"))
		if errors.Is(err, services.ErrHuntNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "hunt not found"})
		}
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to load progress",
				"cause": err.Error(),
			})
		}
		return c.JSON(view)
	})

	router.Post("/hunts/:date/catalog", func(c *fiber.Ctx) error {
		var day services.CatalogDay
		if err := c.BodyParser(&day); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid catalog body"})
		}
		day.Date = c.Params("date")

		spec, err := day.ToSpec(loc)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		hunt, created, err := catalog.SetupHunt(c.UserContext(), spec.Date, spec.Title, spec.Tasks)
		if errors.Is(err, services.ErrInvalidCatalog) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to save hunt catalog",
				"cause": err.Error(),
			})
		}
		status := fiber.StatusOK
		if created {
			status = fiber.StatusCreated
		}
		return c.Status(status).JSON(fiber.Map{"hunt": hunt, "created": created})
	})

	router.Get("/hunts/:date/tasks", func(c *fiber.Ctx) error {
		tasks, err := catalog.TasksForDate(c.UserContext(), c.Params("date"))
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to load tasks",
				"cause": err.Error(),
			})
		}
		return c.JSON(fiber.Map{"date": c.Params("date"), "tasks": tasks})
	})
}
