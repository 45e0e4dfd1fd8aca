package jt808

import "fmt"

// Field widths of the registration body. The 2019 revision widened the
// manufacturer, model and device id fields.
var registrationWidths = map[bool]struct{ maker, model, device int }{
	false: {5, 20, 7},
	true:  {11, 30, 30},
}

// TerminalRegistration is the 0x0100 body.
type TerminalRegistration struct {
	Province     uint16
	City         uint16
	Manufacturer string
	Model        string
	DeviceID     string
	PlateColor   uint8
	Plate        string
}

func (t TerminalRegistration) AppendBody(dst []byte, h *Header) ([]byte, error) {
	w := registrationWidths[h.Properties.Versioned]
	dst = appendU16(dst, t.Province)
	dst = appendU16(dst, t.City)
	var err error
	if dst, err = appendFixedText(dst, t.Manufacturer, w.maker); err != nil {
		return nil, fmt.Errorf("manufacturer: %w", err)
	}
	if dst, err = appendFixedText(dst, t.Model, w.model); err != nil {
		return nil, fmt.Errorf("model: %w", err)
	}
	if dst, err = appendFixedText(dst, t.DeviceID, w.device); err != nil {
		return nil, fmt.Errorf("device id: %w", err)
	}
	dst = append(dst, t.PlateColor)
	plate, err := encodeText(t.Plate)
	if err != nil {
		return nil, fmt.Errorf("plate: %w", err)
	}
	return append(dst, plate...), nil
}

func decodeTerminalRegistration(h *Header, b []byte) (TerminalRegistration, error) {
	w := registrationWidths[h.Properties.Versioned]
	r := newReader(b, ErrMalformedBody)
	t := TerminalRegistration{
		Province:     r.u16(),
		City:         r.u16(),
		Manufacturer: r.text(w.maker),
		Model:        r.text(w.model),
		DeviceID:     r.text(w.device),
		PlateColor:   r.u8(),
	}
	t.Plate = r.text(r.remaining())
	return t, r.err
}

const (
	imeiWidth     = 15
	firmwareWidth = 20
)

// TerminalAuth is the 0x0102 body. The 2019 revision prefixes the code with
// its length and appends IMEI and firmware version.
type TerminalAuth struct {
	AuthCode string
	IMEI     string
	Firmware string
}

func (t TerminalAuth) AppendBody(dst []byte, h *Header) ([]byte, error) {
	code, err := encodeText(t.AuthCode)
	if err != nil {
		return nil, err
	}
	if !h.Properties.Versioned {
		return append(dst, code...), nil
	}
	if len(code) > 0xFF {
		return nil, fmt.Errorf("%w: auth code is %d bytes", ErrFieldTooLong, len(code))
	}
	dst = append(dst, uint8(len(code)))
	dst = append(dst, code...)
	if dst, err = appendFixedText(dst, t.IMEI, imeiWidth); err != nil {
		return nil, fmt.Errorf("imei: %w", err)
	}
	if dst, err = appendFixedText(dst, t.Firmware, firmwareWidth); err != nil {
		return nil, fmt.Errorf("firmware: %w", err)
	}
	return dst, nil
}

func decodeTerminalAuth(h *Header, b []byte) (TerminalAuth, error) {
	r := newReader(b, ErrMalformedBody)
	if !h.Properties.Versioned {
		return TerminalAuth{AuthCode: r.text(r.remaining())}, r.err
	}
	n := int(r.u8())
	t := TerminalAuth{
		AuthCode: r.text(n),
		IMEI:     r.text(imeiWidth),
		Firmware: r.text(firmwareWidth),
	}
	return t, r.err
}
