package adapter

import (
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"openfms/jt808/internal/jt808"
	"openfms/jt808/internal/protocol"
)

// JT808Adapter implements ProtocolAdapter for JT808 protocol
type JT808Adapter struct {
	codec *jt808.Codec
	now   func() time.Time
}

// NewJT808Adapter creates a new JT808 adapter on top of codec (the default
// codec when nil)
func NewJT808Adapter(codec *jt808.Codec) *JT808Adapter {
	if codec == nil {
		codec = jt808.NewCodec()
	}
	return &JT808Adapter{codec: codec, now: time.Now}
}

var _ protocol.ProtocolAdapter = (*JT808Adapter)(nil)

// Protocol returns protocol identifier
func (j *JT808Adapter) Protocol() string {
	return "JT808"
}

// Codec returns the codec the adapter decodes with
func (j *JT808Adapter) Codec() *jt808.Codec {
	return j.codec
}

// Decode translates one JT808 frame to a standard message
func (j *JT808Adapter) Decode(frame []byte) (*protocol.StandardMessage, error) {
	m, err := j.codec.Decode(frame)
	if err != nil {
		return nil, err
	}
	return j.Standardize(m), nil
}

// Encode translates a standard command to one JT808 frame
func (j *JT808Adapter) Encode(cmd protocol.StandardCommand, serial uint16) ([]byte, error) {
	m, err := j.Command(cmd, serial)
	if err != nil {
		return nil, err
	}
	return j.codec.Encode(m)
}

// Standardize maps a decoded message to the protocol-neutral form
func (j *JT808Adapter) Standardize(m *jt808.Message) *protocol.StandardMessage {
	msg := &protocol.StandardMessage{
		DeviceID:  m.Header.TerminalID,
		Protocol:  j.Protocol(),
		Kind:      m.Header.Kind,
		Serial:    m.Header.Serial,
		Timestamp: j.now().Unix(),
		Extras:    make(map[string]interface{}),
	}
	for _, w := range m.Warnings {
		msg.Warnings = append(msg.Warnings, w.Error())
	}

	switch body := m.Body.(type) {
	case jt808.Heartbeat:
		msg.Type = protocol.MsgTypeHeartbeat

	case jt808.TerminalRegistration:
		msg.Type = protocol.MsgTypeRegister
		msg.Extras["province_id"] = body.Province
		msg.Extras["city_id"] = body.City
		msg.Extras["manufacturer_id"] = body.Manufacturer
		msg.Extras["terminal_model"] = body.Model
		msg.Extras["terminal_id"] = body.DeviceID
		msg.Extras["plate_color"] = body.PlateColor
		msg.Extras["plate"] = body.Plate

	case jt808.TerminalAuth:
		msg.Type = protocol.MsgTypeAuth
		msg.Extras["auth_code"] = body.AuthCode
		if body.IMEI != "" {
			msg.Extras["imei"] = body.IMEI
		}
		if body.Firmware != "" {
			msg.Extras["firmware"] = body.Firmware
		}

	case jt808.LocationReport:
		msg.Type = protocol.MsgTypeLocation
		if body.Alarm != 0 {
			msg.Type = protocol.MsgTypeAlarm
		}
		j.fillLocation(msg, body)

	case jt808.LocationQueryResponse:
		msg.Type = protocol.MsgTypeLocation
		msg.Extras["reply_serial"] = body.ReplySerial
		j.fillLocation(msg, body.Location)

	case jt808.GeneralResponse:
		msg.Type = protocol.MsgTypeResponse
		msg.Extras["reply_serial"] = body.ReplySerial
		msg.Extras["reply_kind"] = body.ReplyKind
		msg.Extras["result"] = body.Result.String()

	case jt808.ParametersResponse:
		msg.Type = protocol.MsgTypeParameters
		msg.Extras["reply_serial"] = body.ReplySerial
		msg.Extras["params"] = paramsToMap(body.Params)

	case jt808.MultimediaEvent:
		msg.Type = protocol.MsgTypeMedia
		fillMedia(msg, body)

	case jt808.MultimediaUpload:
		msg.Type = protocol.MsgTypeMedia
		fillMedia(msg, body.MultimediaEvent)
		msg.Extras["size"] = len(body.Data)
		j.fillLocation(msg, body.Location)

	case jt808.RawBody:
		msg.Type = fmt.Sprintf("%s_0x%04X", protocol.MsgTypeUnknown, m.Header.Kind)
		msg.Extras["raw"] = hex.EncodeToString(body)
		if m.Header.Subpackage != nil {
			msg.Extras["package_total"] = m.Header.Subpackage.Total
			msg.Extras["package_seq"] = m.Header.Subpackage.Seq
		}

	default:
		msg.Type = fmt.Sprintf("%s_0x%04X", protocol.MsgTypeUnknown, m.Header.Kind)
	}

	return msg
}

func (j *JT808Adapter) fillLocation(msg *protocol.StandardMessage, loc jt808.LocationReport) {
	msg.Lat = loc.Lat()
	msg.Lon = loc.Lon()
	msg.Speed = loc.SpeedKmh()
	msg.Direction = float64(loc.Heading)
	if !loc.Time.IsZero() {
		msg.Timestamp = loc.Time.Unix()
		msg.Extras["gps_time"] = loc.Time.Format(time.RFC3339)
	}

	msg.Extras["alarm_flag"] = loc.Alarm
	msg.Extras["status"] = loc.Status
	msg.Extras["acc_on"] = loc.Status&jt808.StatusACC != 0
	msg.Extras["location_valid"] = loc.Status&jt808.StatusFixed != 0
	msg.Extras["altitude"] = loc.Altitude

	for _, item := range loc.Additional {
		v, err := item.Value()
		if err != nil {
			msg.Warnings = append(msg.Warnings, err.Error())
			continue
		}
		switch v := v.(type) {
		case jt808.Mileage:
			msg.Extras["mileage"] = v.Kilometers()
		case jt808.FuelLevel:
			msg.Extras["fuel"] = v.Liters()
		case jt808.TachographSpeed:
			msg.Extras["sensor_speed"] = v.KmPerHour()
		case jt808.AlarmEventID:
			msg.Extras["alarm_event_id"] = uint16(v)
		case jt808.SignalStrength:
			msg.Extras["signal_strength"] = uint8(v)
		case jt808.SatelliteCount:
			msg.Extras["satellites"] = uint8(v)
		case jt808.DriverInfo:
			msg.Extras["driver"] = string(v)
		case jt808.Analog:
			msg.Extras["ad0"] = v.AD0
			msg.Extras["ad1"] = v.AD1
		case []jt808.SensorReading:
			temps := make([]float64, len(v))
			hums := make([]float64, len(v))
			for i, s := range v {
				temps[i] = s.Celsius()
				hums[i] = float64(s.Humidity) / 10
			}
			msg.Extras["temperature"] = temps
			msg.Extras["humidity"] = hums
		case nil, jt808.Filler:
			// no standard field
		default:
			msg.Extras[fmt.Sprintf("info_0x%02X", item.ID)] = v
		}
	}
}

func fillMedia(msg *protocol.StandardMessage, e jt808.MultimediaEvent) {
	msg.Extras["media_id"] = e.MediaID
	msg.Extras["media_type"] = e.Type
	msg.Extras["media_format"] = e.Format
	msg.Extras["event"] = e.Event
	msg.Extras["channel"] = e.Channel
}

func paramsToMap(params []jt808.Parameter) map[string]interface{} {
	out := make(map[string]interface{}, len(params))
	for _, p := range params {
		key := fmt.Sprintf("0x%04X", p.ID)
		if v, ok := p.Uint32(); ok {
			out[key] = v
			continue
		}
		out[key] = p.String()
	}
	return out
}

// Command builds the message for cmd, addressed to cmd.DeviceID
func (j *JT808Adapter) Command(cmd protocol.StandardCommand, serial uint16) (*jt808.Message, error) {
	if cmd.DeviceID == "" {
		return nil, fmt.Errorf("command %s: device id is empty", cmd.Type)
	}
	p := params(cmd.Params)

	var (
		kind uint16
		body jt808.Body
		err  error
	)
	switch cmd.Type {
	case protocol.CmdTerminalControl:
		kind = jt808.KindTerminalControl
		body, err = p.terminalControl()
	case protocol.CmdPhotoCapture:
		kind = jt808.KindPhotoCapture
		body, err = p.photoCapture()
	case protocol.CmdGetParams:
		kind = jt808.KindQueryParameters
		body, err = p.parameterQuery()
	case protocol.CmdSetParams:
		kind = jt808.KindSetParameters
		body, err = p.setParameters()
	case protocol.CmdLocationQuery:
		kind, body = jt808.KindLocationQuery, jt808.LocationQuery{}
	case protocol.CmdRealtimeMedia:
		kind = jt808.KindRealtimeMediaRequest
		body, err = p.realtimeMedia()
	case protocol.CmdGeneralAck:
		kind = jt808.KindPlatformResponse
		body, err = p.generalAck()
	default:
		return nil, fmt.Errorf("unsupported command type: %s", cmd.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("command %s: %w", cmd.Type, err)
	}
	return jt808.NewMessage(kind, cmd.DeviceID, serial, body), nil
}

// Ack builds the platform reply for an uplink: 0x8001 for everything a
// terminal sends except registrations, which get 0x8100 carrying authCode.
// Terminal responses themselves are not acknowledged.
func (j *JT808Adapter) Ack(m *jt808.Message, serial uint16, authCode string) (*jt808.Message, bool) {
	h := m.Header
	if !jt808.IsTerminalKind(h.Kind) || h.Kind == jt808.KindTerminalResponse {
		return nil, false
	}

	var reply *jt808.Message
	if h.Kind == jt808.KindTerminalRegister {
		reply = jt808.NewMessage(jt808.KindRegisterResponse, h.TerminalID, serial, jt808.RegistrationResponse{
			ReplySerial: h.Serial,
			Result:      jt808.RegistrationSuccess,
			AuthCode:    authCode,
		})
	} else {
		result := jt808.ResultSuccess
		if lr, ok := m.Body.(jt808.LocationReport); ok && lr.Alarm != 0 {
			result = jt808.ResultAlarmAck
		}
		reply = jt808.NewMessage(jt808.KindPlatformResponse, h.TerminalID, serial, jt808.GeneralResponse{
			ReplySerial: h.Serial,
			ReplyKind:   h.Kind,
			Result:      result,
		})
	}
	if h.Properties.Versioned {
		reply.Versioned(h.ProtocolVersion)
	}
	return reply, true
}

// Reply reports which platform serial m answers, if it is a response
func Reply(m *jt808.Message) (serial uint16, result jt808.Result, ok bool) {
	switch body := m.Body.(type) {
	case jt808.GeneralResponse:
		if m.Header.Kind == jt808.KindTerminalResponse {
			return body.ReplySerial, body.Result, true
		}
	case jt808.ParametersResponse:
		return body.ReplySerial, jt808.ResultSuccess, true
	case jt808.LocationQueryResponse:
		return body.ReplySerial, jt808.ResultSuccess, true
	}
	return 0, 0, false
}

// params reads command parameters as they arrive from JSON: numbers are
// float64, but Go callers may pass ints or numeric strings too.
type params map[string]interface{}

func (p params) uint(key string, def uint64, max uint64) (uint64, error) {
	raw, ok := p[key]
	if !ok || raw == nil {
		return def, nil
	}
	var v uint64
	switch n := raw.(type) {
	case float64:
		if n < 0 || n != math.Trunc(n) {
			return 0, fmt.Errorf("%s: %v is not a non-negative integer", key, n)
		}
		v = uint64(n)
	case int:
		if n < 0 {
			return 0, fmt.Errorf("%s: %d is negative", key, n)
		}
		v = uint64(n)
	case uint8:
		v = uint64(n)
	case uint16:
		v = uint64(n)
	case uint32:
		v = uint64(n)
	case uint64:
		v = n
	case string:
		parsed, err := strconv.ParseUint(strings.TrimSpace(n), 0, 64)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", key, err)
		}
		v = parsed
	default:
		return 0, fmt.Errorf("%s: unsupported type %T", key, raw)
	}
	if v > max {
		return 0, fmt.Errorf("%s: %d exceeds %d", key, v, max)
	}
	return v, nil
}

func (p params) u8(key string, def uint8) (uint8, error) {
	v, err := p.uint(key, uint64(def), math.MaxUint8)
	return uint8(v), err
}

func (p params) u16(key string, def uint16) (uint16, error) {
	v, err := p.uint(key, uint64(def), math.MaxUint16)
	return uint16(v), err
}

func (p params) str(key string) string {
	if s, ok := p[key].(string); ok {
		return s
	}
	return ""
}

func (p params) terminalControl() (jt808.TerminalControl, error) {
	raw, ok := p["command"]
	if !ok {
		return jt808.TerminalControl{}, fmt.Errorf("command: missing")
	}
	tc := jt808.TerminalControl{Params: p.str("params")}
	if name, isName := raw.(string); isName {
		if c, known := jt808.ParseControlCommand(name); known {
			tc.Command = c
			return tc, nil
		}
	}
	word, err := p.u8("command", 0)
	if err != nil {
		return jt808.TerminalControl{}, err
	}
	tc.Command = jt808.ControlCommand(word)
	return tc, nil
}

func (p params) photoCapture() (jt808.PhotoCapture, error) {
	var pc jt808.PhotoCapture
	fields := []struct {
		key string
		def uint8
		dst *uint8
	}{
		{"channel", 1, &pc.Channel},
		{"event_source", 0, &pc.EventSource},
		{"format", 0, &pc.Format},
		{"resolution", 1, &pc.Resolution},
		{"quality", 5, &pc.Quality},
		{"brightness", 128, &pc.Brightness},
		{"contrast", 64, &pc.Contrast},
		{"saturation", 64, &pc.Saturation},
	}
	for _, f := range fields {
		v, err := p.u8(f.key, f.def)
		if err != nil {
			return jt808.PhotoCapture{}, err
		}
		*f.dst = v
	}
	return pc, nil
}

func (p params) parameterQuery() (jt808.ParameterQuery, error) {
	raw, ok := p["ids"]
	if !ok || raw == nil {
		return jt808.ParameterQuery{}, nil
	}
	list, ok := raw.([]interface{})
	if !ok {
		return jt808.ParameterQuery{}, fmt.Errorf("ids: want a list, got %T", raw)
	}
	q := jt808.ParameterQuery{IDs: make([]uint32, 0, len(list))}
	for i, item := range list {
		id, err := params{"id": item}.uint("id", 0, math.MaxUint32)
		if err != nil {
			return jt808.ParameterQuery{}, fmt.Errorf("ids[%d]: %w", i, err)
		}
		q.IDs = append(q.IDs, uint32(id))
	}
	return q, nil
}

func (p params) setParameters() (jt808.SetParameters, error) {
	raw, ok := p["params"].(map[string]interface{})
	if !ok || len(raw) == 0 {
		return jt808.SetParameters{}, fmt.Errorf("params: want a non-empty object")
	}
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var set jt808.SetParameters
	for _, k := range keys {
		id, err := strconv.ParseUint(strings.TrimSpace(k), 0, 32)
		if err != nil {
			return jt808.SetParameters{}, fmt.Errorf("params: id %q: %w", k, err)
		}
		if s, isString := raw[k].(string); isString {
			param, err := jt808.StringParam(uint32(id), s)
			if err != nil {
				return jt808.SetParameters{}, err
			}
			set.Params = append(set.Params, param)
			continue
		}
		v, err := params{k: raw[k]}.uint(k, 0, math.MaxUint32)
		if err != nil {
			return jt808.SetParameters{}, fmt.Errorf("params: %w", err)
		}
		set.Params = append(set.Params, jt808.Uint32Param(uint32(id), uint32(v)))
	}
	return set, nil
}

func (p params) realtimeMedia() (jt808.RealtimeMediaRequest, error) {
	req := jt808.RealtimeMediaRequest{Host: p.str("host")}
	if req.Host == "" {
		return jt808.RealtimeMediaRequest{}, fmt.Errorf("host: missing")
	}
	var err error
	if req.TCPPort, err = p.u16("tcp_port", 0); err != nil {
		return jt808.RealtimeMediaRequest{}, err
	}
	if req.UDPPort, err = p.u16("udp_port", 0); err != nil {
		return jt808.RealtimeMediaRequest{}, err
	}
	if req.Channel, err = p.u8("channel", 1); err != nil {
		return jt808.RealtimeMediaRequest{}, err
	}
	if req.DataType, err = p.u8("data_type", jt808.MediaDataAudioVideo); err != nil {
		return jt808.RealtimeMediaRequest{}, err
	}
	if req.StreamType, err = p.u8("stream_type", jt808.StreamMain); err != nil {
		return jt808.RealtimeMediaRequest{}, err
	}
	return req, nil
}

func (p params) generalAck() (jt808.GeneralResponse, error) {
	kind, err := p.u16("msg_id", 0)
	if err != nil {
		return jt808.GeneralResponse{}, err
	}
	serial, err := p.u16("serial", 0)
	if err != nil {
		return jt808.GeneralResponse{}, err
	}
	result, err := p.u8("result", uint8(jt808.ResultSuccess))
	if err != nil {
		return jt808.GeneralResponse{}, err
	}
	return jt808.GeneralResponse{ReplySerial: serial, ReplyKind: kind, Result: jt808.Result(result)}, nil
}
