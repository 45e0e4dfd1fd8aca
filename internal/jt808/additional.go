package jt808

import (
	"encoding/binary"
	"fmt"
)

// Additional info ids with a known layout. Ids 0x00, 0x3F and 0x56 are ULV
// extensions; the rest follow JT/T 808-2019 and JT/T 1078.
const (
	InfoDriver              uint8 = 0x00
	InfoMileage             uint8 = 0x01
	InfoFuel                uint8 = 0x02
	InfoTachographSpeed     uint8 = 0x03
	InfoAlarmEventID        uint8 = 0x04
	InfoOverspeedAlarm      uint8 = 0x11
	InfoAreaAlarm           uint8 = 0x12
	InfoDriveTimeAlarm      uint8 = 0x13
	InfoVideoAlarm          uint8 = 0x14
	InfoVideoSignalLoss     uint8 = 0x15
	InfoVideoOcclusion      uint8 = 0x16
	InfoStorageFault        uint8 = 0x17
	InfoAbnormalDriving     uint8 = 0x18
	InfoExtendedSignal      uint8 = 0x25
	InfoIOStatus            uint8 = 0x2A
	InfoAnalog              uint8 = 0x2B
	InfoSignalStrength      uint8 = 0x30
	InfoSatellites          uint8 = 0x31
	InfoFiller              uint8 = 0x3F
	InfoTemperatureHumidity uint8 = 0x56
)

// AdditionalInfo is one tag-length-value item trailing a location report.
// Raw is authoritative; Value interprets it when the id has a known layout.
type AdditionalInfo struct {
	ID  uint8
	Raw []byte
}

// Len is the length byte the item carries on the wire.
func (a AdditionalInfo) Len() int { return len(a.Raw) }

// Typed values returned by AdditionalInfo.Value.
type (
	DriverInfo      string
	Mileage         uint32 // 0.1 km
	FuelLevel       uint16 // 0.1 L
	TachographSpeed uint16 // 0.1 km/h
	AlarmEventID    uint16
	SignalStrength  uint8
	SatelliteCount  uint8
	Filler          string
	Flags16         uint16
	Flags32         uint32
)

// Kilometers converts the odometer reading.
func (m Mileage) Kilometers() float64 { return float64(m) / 10 }

// Liters converts the fuel level.
func (f FuelLevel) Liters() float64 { return float64(f) / 10 }

// KmPerHour converts the tachograph speed.
func (s TachographSpeed) KmPerHour() float64 { return float64(s) / 10 }

// Has reports whether bit n is set.
func (f Flags16) Has(n uint) bool { return f&(1<<n) != 0 }

// Has reports whether bit n is set.
func (f Flags32) Has(n uint) bool { return f&(1<<n) != 0 }

// OverspeedAlarm is item 0x11. AreaID is only present when LocationType is
// not zero.
type OverspeedAlarm struct {
	LocationType uint8
	AreaID       uint32
}

// AreaAlarm is item 0x12.
type AreaAlarm struct {
	LocationType uint8
	AreaID       uint32
	Direction    uint8 // 0 in, 1 out
}

// DriveTimeAlarm is item 0x13.
type DriveTimeAlarm struct {
	RouteID   uint32
	DriveTime uint16 // seconds
	Result    uint8  // 0 too short, 1 too long
}

// Analog is item 0x2B: AD0 in the low half, AD1 in the high half.
type Analog struct {
	AD0 uint16
	AD1 uint16
}

// SensorReading is one channel of the ULV temperature/humidity block.
type SensorReading struct {
	Temperature int16  // 0.1 °C
	Humidity    uint16 // 0.1 %RH
}

// Celsius converts the temperature.
func (s SensorReading) Celsius() float64 { return float64(s.Temperature) / 10 }

// Value interprets Raw by id. Ids without a known layout return nil, nil.
func (a AdditionalInfo) Value() (any, error) {
	b := a.Raw
	switch a.ID {
	case InfoDriver:
		s, err := decodeText(trimPadding(b))
		return DriverInfo(s), err
	case InfoFiller:
		s, err := decodeText(trimPadding(b))
		return Filler(s), err
	case InfoMileage:
		if err := a.want(4); err != nil {
			return nil, err
		}
		return Mileage(binary.BigEndian.Uint32(b)), nil
	case InfoFuel:
		if err := a.want(2); err != nil {
			return nil, err
		}
		return FuelLevel(binary.BigEndian.Uint16(b)), nil
	case InfoTachographSpeed:
		if err := a.want(2); err != nil {
			return nil, err
		}
		return TachographSpeed(binary.BigEndian.Uint16(b)), nil
	case InfoAlarmEventID:
		if err := a.want(2); err != nil {
			return nil, err
		}
		return AlarmEventID(binary.BigEndian.Uint16(b)), nil
	case InfoOverspeedAlarm:
		if len(b) == 1 && b[0] == 0 {
			return OverspeedAlarm{}, nil
		}
		if err := a.want(5); err != nil {
			return nil, err
		}
		return OverspeedAlarm{LocationType: b[0], AreaID: binary.BigEndian.Uint32(b[1:])}, nil
	case InfoAreaAlarm:
		if err := a.want(6); err != nil {
			return nil, err
		}
		return AreaAlarm{LocationType: b[0], AreaID: binary.BigEndian.Uint32(b[1:]), Direction: b[5]}, nil
	case InfoDriveTimeAlarm:
		if err := a.want(7); err != nil {
			return nil, err
		}
		return DriveTimeAlarm{
			RouteID:   binary.BigEndian.Uint32(b),
			DriveTime: binary.BigEndian.Uint16(b[4:]),
			Result:    b[6],
		}, nil
	case InfoVideoAlarm, InfoVideoSignalLoss, InfoVideoOcclusion, InfoExtendedSignal:
		if err := a.want(4); err != nil {
			return nil, err
		}
		return Flags32(binary.BigEndian.Uint32(b)), nil
	case InfoStorageFault, InfoAbnormalDriving, InfoIOStatus:
		if err := a.want(2); err != nil {
			return nil, err
		}
		return Flags16(binary.BigEndian.Uint16(b)), nil
	case InfoAnalog:
		if err := a.want(4); err != nil {
			return nil, err
		}
		return Analog{AD0: binary.BigEndian.Uint16(b[2:]), AD1: binary.BigEndian.Uint16(b)}, nil
	case InfoSignalStrength:
		if err := a.want(1); err != nil {
			return nil, err
		}
		return SignalStrength(b[0]), nil
	case InfoSatellites:
		if err := a.want(1); err != nil {
			return nil, err
		}
		return SatelliteCount(b[0]), nil
	case InfoTemperatureHumidity:
		if len(b)%4 != 0 {
			return nil, fmt.Errorf("%w: item 0x%02X length %d is not a multiple of 4", ErrMalformedBody, a.ID, len(b))
		}
		readings := make([]SensorReading, 0, len(b)/4)
		for i := 0; i < len(b); i += 4 {
			readings = append(readings, SensorReading{
				Temperature: int16(binary.BigEndian.Uint16(b[i:])),
				Humidity:    binary.BigEndian.Uint16(b[i+2:]),
			})
		}
		return readings, nil
	default:
		return nil, nil
	}
}

func (a AdditionalInfo) want(n int) error {
	if len(a.Raw) != n {
		return fmt.Errorf("%w: item 0x%02X wants %d bytes, has %d", ErrMalformedBody, a.ID, n, len(a.Raw))
	}
	return nil
}

// MileageInfo builds item 0x01.
func MileageInfo(m Mileage) AdditionalInfo {
	return AdditionalInfo{ID: InfoMileage, Raw: binary.BigEndian.AppendUint32(nil, uint32(m))}
}

// FuelInfo builds item 0x02.
func FuelInfo(f FuelLevel) AdditionalInfo {
	return AdditionalInfo{ID: InfoFuel, Raw: binary.BigEndian.AppendUint16(nil, uint16(f))}
}

// SignalInfo builds item 0x30.
func SignalInfo(s SignalStrength) AdditionalInfo {
	return AdditionalInfo{ID: InfoSignalStrength, Raw: []byte{uint8(s)}}
}

// SatellitesInfo builds item 0x31.
func SatellitesInfo(n SatelliteCount) AdditionalInfo {
	return AdditionalInfo{ID: InfoSatellites, Raw: []byte{uint8(n)}}
}

// DriverInfoItem builds the ULV driver item 0x00.
func DriverInfoItem(name string) (AdditionalInfo, error) {
	raw, err := encodeText(name)
	if err != nil {
		return AdditionalInfo{}, err
	}
	return AdditionalInfo{ID: InfoDriver, Raw: raw}, nil
}

// TemperatureHumidityInfo builds the ULV sensor block 0x56.
func TemperatureHumidityInfo(readings ...SensorReading) AdditionalInfo {
	raw := make([]byte, 0, 4*len(readings))
	for _, s := range readings {
		raw = binary.BigEndian.AppendUint16(raw, uint16(s.Temperature))
		raw = binary.BigEndian.AppendUint16(raw, s.Humidity)
	}
	return AdditionalInfo{ID: InfoTemperatureHumidity, Raw: raw}
}

// ScanAdditionalInfo splits b into items in wire order. When an item
// declares more bytes than remain, the items before it are returned together
// with ErrTruncatedAdditionalInfo.
func ScanAdditionalInfo(b []byte) ([]AdditionalInfo, error) {
	var items []AdditionalInfo
	for len(b) >= 2 {
		id, n := b[0], int(b[1])
		if n > len(b)-2 {
			return items, fmt.Errorf("%w: item 0x%02X declares %d bytes, %d remain",
				ErrTruncatedAdditionalInfo, id, n, len(b)-2)
		}
		items = append(items, AdditionalInfo{ID: id, Raw: clone(b[2 : 2+n])})
		b = b[2+n:]
	}
	if len(b) == 1 {
		return items, fmt.Errorf("%w: dangling byte 0x%02X", ErrTruncatedAdditionalInfo, b[0])
	}
	return items, nil
}

// AppendAdditionalInfo writes items in order.
func AppendAdditionalInfo(dst []byte, items []AdditionalInfo) ([]byte, error) {
	for _, item := range items {
		if len(item.Raw) > 0xFF {
			return nil, fmt.Errorf("%w: item 0x%02X is %d bytes", ErrFieldTooLong, item.ID, len(item.Raw))
		}
		dst = append(dst, item.ID, uint8(len(item.Raw)))
		dst = append(dst, item.Raw...)
	}
	return dst, nil
}
