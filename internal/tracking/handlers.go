package tracking

import (
	"fmt"
	"strconv"

	"backend-tripshare/internal/trip"

	"github.com/gofiber/fiber/v2"
)

// RegisterRoutes mounts the position history endpoint under the trips group.
// A nil archive means no database is configured.
func RegisterRoutes(r fiber.Router, archive *Archive, svc *trip.Service) {
	r.Get("/:id/vehicles/:vehicleId/positions", func(c *fiber.Ctx) error {
		if archive == nil {
			return fiber.NewError(fiber.StatusServiceUnavailable, "position archive disabled")
		}

		limit := DefaultHistoryLimit
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				return fiber.NewError(fiber.StatusBadRequest, "limit must be a positive integer")
			}
			limit = n
		}

		t, err := svc.TripByID(c.UserContext(), c.Params("id"))
		if err != nil {
			return trip.HTTPError(err)
		}
		vehicleID := c.Params("vehicleId")
		if !hasVehicle(t, vehicleID) {
			return fiber.NewError(fiber.StatusNotFound, "not found")
		}

		positions, err := archive.History(c.UserContext(), t.ID, vehicleID, limit)
		if err != nil {
			return fmt.Errorf("position history: %w", err)
		}
		return c.JSON(positions)
	})
}

func hasVehicle(t trip.Trip, id string) bool {
	for _, v := range t.Vehicles {
		if v.ID == id {
			return true
		}
	}
	return false
}
