package jt808

import "fmt"

// Result is the outcome field of a general response.
type Result uint8

const (
	ResultSuccess      Result = 0
	ResultFailure      Result = 1
	ResultMessageError Result = 2
	ResultNotSupported Result = 3
	ResultAlarmAck     Result = 4
)

// Known reports whether r is one of the defined results. Other values are
// kept as they came off the wire.
func (r Result) Known() bool { return r <= ResultAlarmAck }

func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "success"
	case ResultFailure:
		return "failure"
	case ResultMessageError:
		return "message error"
	case ResultNotSupported:
		return "not supported"
	case ResultAlarmAck:
		return "alarm ack"
	default:
		return fmt.Sprintf("unknown(0x%02X)", uint8(r))
	}
}

// GeneralResponse is the body of 0x0001 (terminal) and 0x8001 (platform).
type GeneralResponse struct {
	ReplySerial uint16
	ReplyKind   uint16
	Result      Result
}

func (g GeneralResponse) AppendBody(dst []byte, _ *Header) ([]byte, error) {
	dst = appendU16(dst, g.ReplySerial)
	dst = appendU16(dst, g.ReplyKind)
	return append(dst, uint8(g.Result)), nil
}

func decodeGeneralResponse(_ *Header, b []byte) (GeneralResponse, error) {
	if len(b) != 5 {
		return GeneralResponse{}, fmt.Errorf("%w: general response is 5 bytes, got %d", ErrMalformedBody, len(b))
	}
	r := newReader(b, ErrMalformedBody)
	return GeneralResponse{
		ReplySerial: r.u16(),
		ReplyKind:   r.u16(),
		Result:      Result(r.u8()),
	}, r.err
}

// RegistrationResult is the outcome of a terminal registration.
type RegistrationResult uint8

const (
	RegistrationSuccess           RegistrationResult = 0
	RegistrationVehicleRegistered RegistrationResult = 1
	RegistrationNoVehicle         RegistrationResult = 2
	RegistrationTerminalTaken     RegistrationResult = 3
	RegistrationNoTerminal        RegistrationResult = 4
)

// RegistrationResponse is the 0x8100 body. AuthCode is only sent on success.
type RegistrationResponse struct {
	ReplySerial uint16
	Result      RegistrationResult
	AuthCode    string
}

func (r RegistrationResponse) AppendBody(dst []byte, _ *Header) ([]byte, error) {
	dst = appendU16(dst, r.ReplySerial)
	dst = append(dst, uint8(r.Result))
	if r.Result != RegistrationSuccess {
		return dst, nil
	}
	code, err := encodeText(r.AuthCode)
	if err != nil {
		return nil, err
	}
	return append(dst, code...), nil
}

func decodeRegistrationResponse(_ *Header, b []byte) (RegistrationResponse, error) {
	r := newReader(b, ErrMalformedBody)
	resp := RegistrationResponse{
		ReplySerial: r.u16(),
		Result:      RegistrationResult(r.u8()),
	}
	if r.err == nil && resp.Result == RegistrationSuccess {
		resp.AuthCode = r.text(r.remaining())
	}
	return resp, r.err
}
