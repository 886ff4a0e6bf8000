// Package feed exports live vehicle positions as a GTFS-realtime feed.
package feed

import (
	"time"

	"backend-tripshare/internal/trip"

	gtfsrtpb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"
)

const gtfsRealtimeVersion = "2.0"

// Build returns a full-dataset FeedMessage with one VehiclePosition per
// vehicle that has reported at least once.
func Build(t trip.Trip, now time.Time) *gtfsrtpb.FeedMessage {
	msg := &gtfsrtpb.FeedMessage{
		Header: &gtfsrtpb.FeedHeader{
			GtfsRealtimeVersion: proto.String(gtfsRealtimeVersion),
			Incrementality:      gtfsrtpb.FeedHeader_FULL_DATASET.Enum(),
			Timestamp:           proto.Uint64(uint64(now.Unix())),
		},
	}

	for _, v := range t.Vehicles {
		if v.LastLat == nil || v.LastLng == nil {
			continue
		}
		msg.Entity = append(msg.Entity, &gtfsrtpb.FeedEntity{
			Id:      proto.String(v.ID),
			Vehicle: vehiclePosition(t.ID, v),
		})
	}
	return msg
}

func vehiclePosition(tripID string, v trip.Vehicle) *gtfsrtpb.VehiclePosition {
	pos := &gtfsrtpb.Position{
		Latitude:  proto.Float32(float32(*v.LastLat)),
		Longitude: proto.Float32(float32(*v.LastLng)),
	}
	if v.LastHeading != nil {
		pos.Bearing = proto.Float32(float32(*v.LastHeading))
	}
	if v.LastSpeedKmh != nil {
		// GTFS-RT speed is metres per second.
		pos.Speed = proto.Float32(float32(*v.LastSpeedKmh / 3.6))
	}

	vp := &gtfsrtpb.VehiclePosition{
		Trip:     &gtfsrtpb.TripDescriptor{TripId: proto.String(tripID)},
		Vehicle:  &gtfsrtpb.VehicleDescriptor{Id: proto.String(v.ID), Label: proto.String(v.Name)},
		Position: pos,
	}
	if v.UpdatedAt != nil {
		vp.Timestamp = proto.Uint64(uint64(v.UpdatedAt.Unix()))
	}
	return vp
}
