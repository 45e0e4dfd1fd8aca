package jt808

import (
	"fmt"
	"strings"
)

// ControlCommand is the command word of a 0x8105 terminal control.
type ControlCommand uint8

// Command words. 0x01-0x07 are JT/T 808, 0x70-0x74 the ULV extensions.
const (
	ControlWirelessUpgrade ControlCommand = 0x01
	ControlConnectServer   ControlCommand = 0x02
	ControlPowerOff        ControlCommand = 0x03
	ControlReset           ControlCommand = 0x04
	ControlFactoryReset    ControlCommand = 0x05
	ControlCloseDataLink   ControlCommand = 0x06
	ControlCloseAllLinks   ControlCommand = 0x07
	ControlDisconnectOil   ControlCommand = 0x70
	ControlRecoverOil      ControlCommand = 0x71
	ControlShutdownCircuit ControlCommand = 0x72
	ControlRecoverCircuit  ControlCommand = 0x73
	ControlRestart         ControlCommand = 0x74
)

var controlNames = map[ControlCommand]string{
	ControlWirelessUpgrade: "wireless-upgrade",
	ControlConnectServer:   "connect-server",
	ControlPowerOff:        "power-off",
	ControlReset:           "reset",
	ControlFactoryReset:    "factory-reset",
	ControlCloseDataLink:   "close-data-link",
	ControlCloseAllLinks:   "close-all-links",
	ControlDisconnectOil:   "disconnect-oil",
	ControlRecoverOil:      "recover-oil",
	ControlShutdownCircuit: "shutdown-circuit",
	ControlRecoverCircuit:  "recover-circuit",
	ControlRestart:         "restart",
}

func (c ControlCommand) String() string {
	if s, ok := controlNames[c]; ok {
		return s
	}
	return fmt.Sprintf("control(0x%02X)", uint8(c))
}

// ParseControlCommand accepts the names String returns.
func ParseControlCommand(s string) (ControlCommand, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for c, name := range controlNames {
		if name == s {
			return c, true
		}
	}
	return 0, false
}

// TerminalControl is the 0x8105 body: a command word followed by an optional
// semicolon separated parameter string.
type TerminalControl struct {
	Command ControlCommand
	Params  string
}

func (t TerminalControl) AppendBody(dst []byte, _ *Header) ([]byte, error) {
	params, err := encodeText(t.Params)
	if err != nil {
		return nil, err
	}
	dst = append(dst, uint8(t.Command))
	return append(dst, params...), nil
}

func decodeTerminalControl(_ *Header, b []byte) (TerminalControl, error) {
	r := newReader(b, ErrMalformedBody)
	cmd := ControlCommand(r.u8())
	if r.err != nil {
		return TerminalControl{}, r.err
	}
	params, err := decodeText(b[1:])
	if err != nil {
		return TerminalControl{}, err
	}
	return TerminalControl{Command: cmd, Params: params}, nil
}

// PhotoCapture is the ULV 0x8801 body: eight single-byte fields in this
// order.
type PhotoCapture struct {
	Channel     uint8
	EventSource uint8
	Format      uint8 // 0 JPEG
	Resolution  uint8
	Quality     uint8 // 1 best .. 10 worst
	Brightness  uint8
	Contrast    uint8
	Saturation  uint8
}

const photoCaptureSize = 8

func (p PhotoCapture) AppendBody(dst []byte, _ *Header) ([]byte, error) {
	return append(dst, p.Channel, p.EventSource, p.Format, p.Resolution,
		p.Quality, p.Brightness, p.Contrast, p.Saturation), nil
}

func decodePhotoCapture(_ *Header, b []byte) (PhotoCapture, error) {
	if len(b) != photoCaptureSize {
		return PhotoCapture{}, fmt.Errorf("%w: photo capture is %d bytes, got %d", ErrMalformedBody, photoCaptureSize, len(b))
	}
	return PhotoCapture{
		Channel:     b[0],
		EventSource: b[1],
		Format:      b[2],
		Resolution:  b[3],
		Quality:     b[4],
		Brightness:  b[5],
		Contrast:    b[6],
		Saturation:  b[7],
	}, nil
}

// ParameterQuery is the 0x8104 body. No ids asks for every parameter and is
// sent as an empty body; a zero count on the wire decodes the same way.
type ParameterQuery struct {
	IDs []uint32
}

func (q ParameterQuery) AppendBody(dst []byte, _ *Header) ([]byte, error) {
	if len(q.IDs) == 0 {
		return dst, nil
	}
	if len(q.IDs) > 0xFF {
		return nil, fmt.Errorf("%w: %d parameter ids", ErrFieldTooLong, len(q.IDs))
	}
	dst = append(dst, uint8(len(q.IDs)))
	for _, id := range q.IDs {
		dst = appendU32(dst, id)
	}
	return dst, nil
}

func decodeParameterQuery(_ *Header, b []byte) (ParameterQuery, error) {
	if len(b) == 0 {
		return ParameterQuery{}, nil
	}
	r := newReader(b, ErrMalformedBody)
	n := int(r.u8())
	if len(b) != 1+4*n {
		return ParameterQuery{}, fmt.Errorf("%w: %d ids need %d bytes, got %d", ErrMalformedBody, n, 1+4*n, len(b))
	}
	if n == 0 {
		return ParameterQuery{}, nil
	}
	ids := make([]uint32, n)
	for i := range ids {
		ids[i] = r.u32()
	}
	return ParameterQuery{IDs: ids}, r.err
}

// Parameter is one terminal parameter. The value layout depends on the id and
// is left to the caller; see the Uint32/String helpers.
type Parameter struct {
	ID    uint32
	Value []byte
}

// Common parameter ids.
const (
	ParamHeartbeatInterval uint32 = 0x0001
	ParamTCPTimeout        uint32 = 0x0002
	ParamServerAddress     uint32 = 0x0013
	ParamServerTCPPort     uint32 = 0x0018
	ParamReportInterval    uint32 = 0x0029
	ParamOverspeedLimit    uint32 = 0x0055
)

// Uint32Param builds a numeric parameter.
func Uint32Param(id, v uint32) Parameter {
	return Parameter{ID: id, Value: appendU32(nil, v)}
}

// StringParam builds a GBK text parameter.
func StringParam(id uint32, s string) (Parameter, error) {
	b, err := encodeText(s)
	if err != nil {
		return Parameter{}, err
	}
	return Parameter{ID: id, Value: b}, nil
}

// Uint32 reads a 1, 2 or 4 byte numeric value.
func (p Parameter) Uint32() (uint32, bool) {
	var v uint32
	switch len(p.Value) {
	case 1, 2, 4:
		for _, b := range p.Value {
			v = v<<8 | uint32(b)
		}
		return v, true
	}
	return 0, false
}

// String reads a GBK text value.
func (p Parameter) String() string {
	s, err := decodeText(trimPadding(p.Value))
	if err != nil {
		return ""
	}
	return s
}

func appendParameters(dst []byte, params []Parameter) ([]byte, error) {
	if len(params) > 0xFF {
		return nil, fmt.Errorf("%w: %d parameters", ErrFieldTooLong, len(params))
	}
	dst = append(dst, uint8(len(params)))
	for _, p := range params {
		if len(p.Value) > 0xFF {
			return nil, fmt.Errorf("%w: parameter 0x%04X is %d bytes", ErrFieldTooLong, p.ID, len(p.Value))
		}
		dst = appendU32(dst, p.ID)
		dst = append(dst, uint8(len(p.Value)))
		dst = append(dst, p.Value...)
	}
	return dst, nil
}

// parameters reads count u8 followed by {id u32, len u8, value}. The count
// is a hint; some terminals send a stale one, so the list runs to the end.
func (r *reader) parameters() []Parameter {
	n := int(r.u8())
	params := make([]Parameter, 0, n)
	for r.err == nil && r.remaining() > 0 {
		id := r.u32()
		l := int(r.u8())
		v := r.bytes(l)
		if r.err != nil {
			return nil
		}
		params = append(params, Parameter{ID: id, Value: v})
	}
	return params
}

// SetParameters is the 0x8103 body.
type SetParameters struct {
	Params []Parameter
}

func (s SetParameters) AppendBody(dst []byte, _ *Header) ([]byte, error) {
	return appendParameters(dst, s.Params)
}

func decodeSetParameters(_ *Header, b []byte) (SetParameters, error) {
	r := newReader(b, ErrMalformedBody)
	params := r.parameters()
	if r.err != nil {
		return SetParameters{}, r.err
	}
	return SetParameters{Params: params}, nil
}

// ParametersResponse is the 0x0104 body answering a 0x8104 query.
type ParametersResponse struct {
	ReplySerial uint16
	Params      []Parameter
}

func (p ParametersResponse) AppendBody(dst []byte, _ *Header) ([]byte, error) {
	return appendParameters(appendU16(dst, p.ReplySerial), p.Params)
}

func decodeParametersResponse(_ *Header, b []byte) (ParametersResponse, error) {
	r := newReader(b, ErrMalformedBody)
	serial := r.u16()
	params := r.parameters()
	if r.err != nil {
		return ParametersResponse{}, r.err
	}
	return ParametersResponse{ReplySerial: serial, Params: params}, nil
}

// Param returns the first parameter with id.
func (p ParametersResponse) Param(id uint32) (Parameter, bool) {
	for _, v := range p.Params {
		if v.ID == id {
			return v, true
		}
	}
	return Parameter{}, false
}
