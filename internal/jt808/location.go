package jt808

import (
	"fmt"
	"math"
	"time"
)

// Status bits of a location report that the codec itself interprets.
const (
	StatusACC   uint32 = 1 << 0
	StatusFixed uint32 = 1 << 1
	StatusSouth uint32 = 1 << 2
	StatusWest  uint32 = 1 << 3
)

// Alarm bits used by the gateway when it flags a report as an alarm.
const (
	AlarmEmergency uint32 = 1 << 0
	AlarmOverspeed uint32 = 1 << 1
	AlarmFatigue   uint32 = 1 << 2
	AlarmGNSSFault uint32 = 1 << 4
	AlarmPowerLow  uint32 = 1 << 7
	AlarmPowerCut  uint32 = 1 << 8
)

const locationFixedSize = 28

// LocationReport is the 0x0200 body.
type LocationReport struct {
	Alarm  uint32
	Status uint32
	// Latitude and Longitude are degrees * 1e6, negative for the southern
	// and western hemispheres.
	Latitude  int32
	Longitude int32
	Altitude  uint16 // metres
	Speed     uint16 // 0.1 km/h
	Heading   uint16 // degrees from north
	Time      time.Time

	Additional []AdditionalInfo
}

// Lat returns the latitude in degrees.
func (l LocationReport) Lat() float64 { return float64(l.Latitude) / 1e6 }

// Lon returns the longitude in degrees.
func (l LocationReport) Lon() float64 { return float64(l.Longitude) / 1e6 }

// SpeedKmh returns the speed in km/h.
func (l LocationReport) SpeedKmh() float64 { return float64(l.Speed) / 10 }

// Info returns the first additional item with the given id.
func (l LocationReport) Info(id uint8) (AdditionalInfo, bool) {
	for _, item := range l.Additional {
		if item.ID == id {
			return item, true
		}
	}
	return AdditionalInfo{}, false
}

func (l LocationReport) AppendBody(dst []byte, _ *Header) ([]byte, error) {
	dst, err := l.appendFixed(dst)
	if err != nil {
		return nil, err
	}
	return AppendAdditionalInfo(dst, l.Additional)
}

// appendFixed writes the 28-byte prefix. The hemisphere bits follow the sign
// of the coordinates; a zero coordinate keeps whatever bit the caller set.
func (l LocationReport) appendFixed(dst []byte) ([]byte, error) {
	if err := checkCoordinate("latitude", l.Latitude, maxLatitude); err != nil {
		return nil, err
	}
	if err := checkCoordinate("longitude", l.Longitude, maxLongitude); err != nil {
		return nil, err
	}
	status := hemisphere(l.Status, l.Latitude, StatusSouth)
	status = hemisphere(status, l.Longitude, StatusWest)
	dst = appendU32(dst, l.Alarm)
	dst = appendU32(dst, status)
	dst = appendU32(dst, magnitude(l.Latitude))
	dst = appendU32(dst, magnitude(l.Longitude))
	dst = appendU16(dst, l.Altitude)
	dst = appendU16(dst, l.Speed)
	dst = appendU16(dst, l.Heading)
	return appendBCDTime(dst, l.Time)
}

func hemisphere(status uint32, v int32, bit uint32) uint32 {
	switch {
	case v < 0:
		return status | bit
	case v > 0:
		return status &^ bit
	default:
		return status
	}
}

// Coordinate limits in degrees * 1e6.
const (
	maxLatitude  = 90_000000
	maxLongitude = 180_000000
)

func checkCoordinate(name string, v, limit int32) error {
	if v > limit || v < -limit {
		return fmt.Errorf("%w: %s %d", ErrCoordinateRange, name, v)
	}
	return nil
}

func magnitude(v int32) uint32 {
	if v < 0 {
		return uint32(-int64(v))
	}
	return uint32(v)
}

func signed(mag uint32, negative bool) (int32, error) {
	if mag > math.MaxInt32 {
		return 0, fmt.Errorf("%w: coordinate 0x%08X out of range", ErrMalformedBody, mag)
	}
	if negative {
		return -int32(mag), nil
	}
	return int32(mag), nil
}

func (r *reader) location() LocationReport {
	l := LocationReport{
		Alarm:  r.u32(),
		Status: r.u32(),
	}
	lat, lon := r.u32(), r.u32()
	l.Altitude = r.u16()
	l.Speed = r.u16()
	l.Heading = r.u16()
	l.Time = r.time()
	if r.err != nil {
		return LocationReport{}
	}
	var err error
	if l.Latitude, err = signed(lat, l.Status&StatusSouth != 0); err != nil {
		r.err = err
		return LocationReport{}
	}
	if l.Longitude, err = signed(lon, l.Status&StatusWest != 0); err != nil {
		r.err = err
		return LocationReport{}
	}
	return l
}

func decodeLocationReport(_ *Header, b []byte) (LocationReport, error) {
	r := newReader(b, ErrMalformedBody)
	l := r.location()
	if r.err != nil {
		return LocationReport{}, r.err
	}
	var err error
	l.Additional, err = ScanAdditionalInfo(b[r.off:])
	return l, err
}

// LocationQueryResponse is the 0x0201 body.
type LocationQueryResponse struct {
	ReplySerial uint16
	Location    LocationReport
}

func (q LocationQueryResponse) AppendBody(dst []byte, h *Header) ([]byte, error) {
	return q.Location.AppendBody(appendU16(dst, q.ReplySerial), h)
}

func decodeLocationQueryResponse(h *Header, b []byte) (LocationQueryResponse, error) {
	if len(b) < 2 {
		return LocationQueryResponse{}, fmt.Errorf("%w: location query response is %d bytes", ErrMalformedBody, len(b))
	}
	l, err := decodeLocationReport(h, b[2:])
	if err != nil && !isWarning(err) {
		return LocationQueryResponse{}, err
	}
	return LocationQueryResponse{ReplySerial: uint16(b[0])<<8 | uint16(b[1]), Location: l}, err
}
