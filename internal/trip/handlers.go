package trip

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
)

func RegisterRoutes(r fiber.Router, svc *Service) {
	r.Post("/", func(c *fiber.Ctx) error {
		var body struct {
			Name   string  `json:"name"`
			Center *Center `json:"center"`
		}
		if len(c.Body()) > 0 {
			if err := parseBody(c, &body); err != nil {
				return err
			}
		}
		trip, err := svc.CreateTrip(c.UserContext(), body.Name, body.Center)
		if err != nil {
			return HTTPError(err)
		}
		return c.JSON(fiber.Map{"id": trip.ID, "join_code": trip.JoinCode})
	})

	r.Get("/:joinCode", func(c *fiber.Ctx) error {
		trip, err := svc.TripByJoinCode(c.UserContext(), c.Params("joinCode"))
		if err != nil {
			return HTTPError(err)
		}
		return c.JSON(trip)
	})

	r.Post("/:id/vehicles", func(c *fiber.Ctx) error {
		var body struct {
			Name string `json:"name"`
		}
		if len(c.Body()) > 0 {
			if err := parseBody(c, &body); err != nil {
				return err
			}
		}
		vehicle, err := svc.RegisterVehicle(c.UserContext(), c.Params("id"), body.Name)
		if err != nil {
			return HTTPError(err)
		}
		return c.JSON(fiber.Map{"vehicle_id": vehicle.ID})
	})

	r.Post("/:id/schedule", func(c *fiber.Ctx) error {
		var req ScheduleInput
		if len(c.Body()) > 0 {
			if err := parseBody(c, &req); err != nil {
				return err
			}
		}
		item, err := svc.AddScheduleItem(c.UserContext(), c.Params("id"), req)
		if err != nil {
			return HTTPError(err)
		}
		return c.JSON(fiber.Map{"ok": true, "item": item})
	})
}

func parseBody(c *fiber.Ctx, v any) error {
	err := c.BodyParser(v)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrValidation):
		return HTTPError(err)
	default:
		return fiber.NewError(fiber.StatusBadRequest, "invalid JSON body")
	}
}

// HTTPError maps service errors onto Fiber status errors.
func HTTPError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, "not found")
	case errors.Is(err, ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	default:
		return fmt.Errorf("trip request: %w", err)
	}
}
