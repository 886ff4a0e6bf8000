package feed

import (
	"fmt"
	"time"

	"backend-tripshare/internal/trip"

	"github.com/gofiber/fiber/v2"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

const contentTypeProtobuf = "application/x-protobuf"

func RegisterRoutes(r fiber.Router, svc *trip.Service) {
	r.Get("/:id/gtfsrt", func(c *fiber.Ctx) error {
		t, err := svc.TripByID(c.UserContext(), c.Params("id"))
		if err != nil {
			return trip.HTTPError(err)
		}
		msg := Build(t, time.Now())

		if c.Query("format") == "json" {
			body, err := protojson.Marshal(msg)
			if err != nil {
				return fmt.Errorf("encode feed json: %w", err)
			}
			c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
			return c.Send(body)
		}

		body, err := proto.Marshal(msg)
		if err != nil {
			return fmt.Errorf("encode feed: %w", err)
		}
		c.Set(fiber.HeaderContentType, contentTypeProtobuf)
		return c.Send(body)
	})
}
