package adapter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"openfms/jt808/internal/jt808"
	"openfms/jt808/internal/protocol"
)

func fixedAdapter() *JT808Adapter {
	a := NewJT808Adapter(nil)
	a.now = func() time.Time { return time.Unix(1700000000, 0) }
	return a
}

func TestStandardizeLocation(t *testing.T) {
	driver, err := jt808.DriverInfoItem("Driver1")
	require.NoError(t, err)
	loc := jt808.LocationReport{
		Status:    jt808.StatusACC | jt808.StatusFixed,
		Latitude:  22543096,
		Longitude: -114057865,
		Altitude:  12,
		Speed:     655,
		Heading:   270,
		Time:      time.Date(2024, time.May, 4, 10, 0, 0, 0, time.UTC),
		Additional: []jt808.AdditionalInfo{
			jt808.MileageInfo(1234),
			jt808.FuelInfo(300),
			jt808.SignalInfo(20),
			jt808.SatellitesInfo(11),
			driver,
			jt808.TemperatureHumidityInfo(jt808.SensorReading{Temperature: -25, Humidity: 555}),
			{ID: 0xE5, Raw: []byte{1}},
		},
	}
	frame, err := jt808.Encode(jt808.NewMessage(jt808.KindLocationReport, "13912345678", 5, loc))
	require.NoError(t, err)

	msg, err := fixedAdapter().Decode(frame)
	require.NoError(t, err)

	assert.Equal(t, "013912345678", msg.DeviceID)
	assert.Equal(t, "JT808", msg.Protocol)
	assert.Equal(t, protocol.MsgTypeLocation, msg.Type)
	assert.Equal(t, jt808.KindLocationReport, msg.Kind)
	assert.Equal(t, uint16(5), msg.Serial)
	assert.Equal(t, loc.Time.Unix(), msg.Timestamp)
	assert.InDelta(t, 22.543096, msg.Lat, 1e-9)
	assert.InDelta(t, -114.057865, msg.Lon, 1e-9)
	assert.InDelta(t, 65.5, msg.Speed, 1e-9)
	assert.Equal(t, 270.0, msg.Direction)

	assert.Equal(t, true, msg.Extras["acc_on"])
	assert.Equal(t, true, msg.Extras["location_valid"])
	assert.InDelta(t, 123.4, msg.Extras["mileage"], 1e-9)
	assert.InDelta(t, 30.0, msg.Extras["fuel"], 1e-9)
	assert.Equal(t, uint8(20), msg.Extras["signal_strength"])
	assert.Equal(t, uint8(11), msg.Extras["satellites"])
	assert.Equal(t, "Driver1", msg.Extras["driver"])
	assert.Equal(t, []float64{-2.5}, msg.Extras["temperature"])
	assert.Equal(t, []float64{55.5}, msg.Extras["humidity"])
	assert.Empty(t, msg.Warnings)
}

func TestStandardizeAlarmAndKinds(t *testing.T) {
	a := fixedAdapter()

	tt := []struct {
		desc string
		kind uint16
		body jt808.Body
		want string
	}{
		{desc: "alarm", kind: jt808.KindLocationReport, body: jt808.LocationReport{Alarm: jt808.AlarmEmergency}, want: protocol.MsgTypeAlarm},
		{desc: "heartbeat", kind: jt808.KindHeartbeat, body: jt808.Heartbeat{}, want: protocol.MsgTypeHeartbeat},
		{desc: "auth", kind: jt808.KindTerminalAuth, body: jt808.TerminalAuth{AuthCode: "abc"}, want: protocol.MsgTypeAuth},
		{desc: "register", kind: jt808.KindTerminalRegister, body: jt808.TerminalRegistration{Plate: "粤B12345"}, want: protocol.MsgTypeRegister},
		{desc: "response", kind: jt808.KindTerminalResponse, body: jt808.GeneralResponse{ReplySerial: 4}, want: protocol.MsgTypeResponse},
		{desc: "params", kind: jt808.KindParametersResponse, body: jt808.ParametersResponse{Params: []jt808.Parameter{jt808.Uint32Param(1, 30)}}, want: protocol.MsgTypeParameters},
		{desc: "media", kind: jt808.KindMultimediaEvent, body: jt808.MultimediaEvent{MediaID: 3}, want: protocol.MsgTypeMedia},
		{desc: "raw", kind: 0x0F00, body: jt808.RawBody{0xAB}, want: "UNKNOWN_0x0F00"},
	}

	for _, tc := range tt {
		t.Run(tc.desc, func(t *testing.T) {
			msg := a.Standardize(jt808.NewMessage(tc.kind, "1", 1, tc.body))
			assert.Equal(t, tc.want, msg.Type)
			assert.Equal(t, int64(1700000000), msg.Timestamp)
		})
	}

	msg := a.Standardize(jt808.NewMessage(jt808.KindParametersResponse, "1", 1,
		jt808.ParametersResponse{ReplySerial: 9, Params: []jt808.Parameter{jt808.Uint32Param(1, 30)}}))
	assert.Equal(t, map[string]interface{}{"0x0001": uint32(30)}, msg.Extras["params"])
	assert.Equal(t, uint16(9), msg.Extras["reply_serial"])

	msg = a.Standardize(jt808.NewMessage(0x0F00, "1", 1, jt808.RawBody{0xAB}))
	assert.Equal(t, "ab", msg.Extras["raw"])
}

func TestCommand(t *testing.T) {
	a := fixedAdapter()

	tt := []struct {
		desc string
		cmd  protocol.StandardCommand
		kind uint16
		body jt808.Body
	}{
		{
			desc: "terminal control by name",
			cmd:  protocol.StandardCommand{Type: protocol.CmdTerminalControl, Params: map[string]interface{}{"command": "restart"}},
			kind: jt808.KindTerminalControl,
			body: jt808.TerminalControl{Command: jt808.ControlRestart},
		},
		{
			desc: "terminal control by word",
			cmd:  protocol.StandardCommand{Type: protocol.CmdTerminalControl, Params: map[string]interface{}{"command": float64(0x70)}},
			kind: jt808.KindTerminalControl,
			body: jt808.TerminalControl{Command: jt808.ControlDisconnectOil},
		},
		{
			desc: "photo defaults",
			cmd:  protocol.StandardCommand{Type: protocol.CmdPhotoCapture, Params: map[string]interface{}{"channel": float64(2)}},
			kind: jt808.KindPhotoCapture,
			body: jt808.PhotoCapture{Channel: 2, Resolution: 1, Quality: 5, Brightness: 128, Contrast: 64, Saturation: 64},
		},
		{
			desc: "query params",
			cmd:  protocol.StandardCommand{Type: protocol.CmdGetParams, Params: map[string]interface{}{"ids": []interface{}{float64(1), "0x0055"}}},
			kind: jt808.KindQueryParameters,
			body: jt808.ParameterQuery{IDs: []uint32{1, 0x55}},
		},
		{
			desc: "query all params",
			cmd:  protocol.StandardCommand{Type: protocol.CmdGetParams},
			kind: jt808.KindQueryParameters,
			body: jt808.ParameterQuery{},
		},
		{
			desc: "set params",
			cmd: protocol.StandardCommand{Type: protocol.CmdSetParams, Params: map[string]interface{}{
				"params": map[string]interface{}{"0x0029": float64(10), "0x0013": "10.0.0.1"},
			}},
			kind: jt808.KindSetParameters,
			body: jt808.SetParameters{Params: []jt808.Parameter{
				{ID: 0x13, Value: []byte("10.0.0.1")},
				jt808.Uint32Param(0x29, 10),
			}},
		},
		{
			desc: "location query",
			cmd:  protocol.StandardCommand{Type: protocol.CmdLocationQuery},
			kind: jt808.KindLocationQuery,
			body: jt808.LocationQuery{},
		},
		{
			desc: "realtime media",
			cmd: protocol.StandardCommand{Type: protocol.CmdRealtimeMedia, Params: map[string]interface{}{
				"host": "10.1.1.1", "tcp_port": float64(1078), "stream_type": float64(1),
			}},
			kind: jt808.KindRealtimeMediaRequest,
			body: jt808.RealtimeMediaRequest{Host: "10.1.1.1", TCPPort: 1078, Channel: 1, StreamType: jt808.StreamSub},
		},
		{
			desc: "general ack",
			cmd:  protocol.StandardCommand{Type: protocol.CmdGeneralAck, Params: map[string]interface{}{"msg_id": float64(0x0200), "serial": float64(17)}},
			kind: jt808.KindPlatformResponse,
			body: jt808.GeneralResponse{ReplySerial: 17, ReplyKind: 0x0200, Result: jt808.ResultSuccess},
		},
	}

	for _, tc := range tt {
		t.Run(tc.desc, func(t *testing.T) {
			tc.cmd.DeviceID = "628076842334"
			m, err := a.Command(tc.cmd, 33)
			require.NoError(t, err)
			assert.Equal(t, tc.kind, m.Header.Kind)
			assert.Equal(t, "628076842334", m.Header.TerminalID)
			assert.Equal(t, uint16(33), m.Header.Serial)
			assert.Equal(t, tc.body, m.Body)

			frame, err := a.Encode(tc.cmd, 33)
			require.NoError(t, err)
			decoded, err := jt808.Decode(frame)
			require.NoError(t, err)
			assert.Equal(t, tc.body, decoded.Body)
		})
	}
}

func TestCommandErrors(t *testing.T) {
	a := fixedAdapter()
	for _, cmd := range []protocol.StandardCommand{
		{DeviceID: "1", Type: "REBOOT_UNIVERSE"},
		{Type: protocol.CmdLocationQuery},
		{DeviceID: "1", Type: protocol.CmdTerminalControl},
		{DeviceID: "1", Type: protocol.CmdTerminalControl, Params: map[string]interface{}{"command": float64(300)}},
		{DeviceID: "1", Type: protocol.CmdPhotoCapture, Params: map[string]interface{}{"quality": float64(-1)}},
		{DeviceID: "1", Type: protocol.CmdGetParams, Params: map[string]interface{}{"ids": "all"}},
		{DeviceID: "1", Type: protocol.CmdSetParams},
		{DeviceID: "1", Type: protocol.CmdSetParams, Params: map[string]interface{}{"params": map[string]interface{}{"speed": float64(1)}}},
		{DeviceID: "1", Type: protocol.CmdRealtimeMedia},
	} {
		_, err := a.Command(cmd, 1)
		assert.Error(t, err, "%s %v", cmd.Type, cmd.Params)
	}
}

func TestAck(t *testing.T) {
	a := fixedAdapter()

	loc := jt808.NewMessage(jt808.KindLocationReport, "1", 40, jt808.LocationReport{})
	reply, ok := a.Ack(loc, 2, "")
	require.True(t, ok)
	assert.Equal(t, jt808.KindPlatformResponse, reply.Header.Kind)
	assert.Equal(t, jt808.GeneralResponse{ReplySerial: 40, ReplyKind: jt808.KindLocationReport, Result: jt808.ResultSuccess}, reply.Body)

	alarm := jt808.NewMessage(jt808.KindLocationReport, "1", 41, jt808.LocationReport{Alarm: jt808.AlarmOverspeed})
	reply, ok = a.Ack(alarm, 3, "")
	require.True(t, ok)
	assert.Equal(t, jt808.ResultAlarmAck, reply.Body.(jt808.GeneralResponse).Result)

	reg := jt808.NewMessage(jt808.KindTerminalRegister, "1", 1, jt808.TerminalRegistration{}).Versioned(1)
	reply, ok = a.Ack(reg, 4, "TOKEN")
	require.True(t, ok)
	assert.Equal(t, jt808.KindRegisterResponse, reply.Header.Kind)
	assert.True(t, reply.Header.Properties.Versioned)
	assert.Equal(t, jt808.RegistrationResponse{ReplySerial: 1, Result: jt808.RegistrationSuccess, AuthCode: "TOKEN"}, reply.Body)

	_, ok = a.Ack(jt808.NewMessage(jt808.KindTerminalResponse, "1", 1, jt808.GeneralResponse{}), 5, "")
	assert.False(t, ok)
	_, ok = a.Ack(jt808.NewMessage(jt808.KindTerminalControl, "1", 1, jt808.TerminalControl{}), 5, "")
	assert.False(t, ok)
}

func TestReply(t *testing.T) {
	serial, result, ok := Reply(jt808.NewMessage(jt808.KindTerminalResponse, "1", 1,
		jt808.GeneralResponse{ReplySerial: 77, ReplyKind: jt808.KindTerminalControl, Result: jt808.ResultFailure}))
	require.True(t, ok)
	assert.Equal(t, uint16(77), serial)
	assert.Equal(t, jt808.ResultFailure, result)

	serial, _, ok = Reply(jt808.NewMessage(jt808.KindParametersResponse, "1", 1, jt808.ParametersResponse{ReplySerial: 8}))
	require.True(t, ok)
	assert.Equal(t, uint16(8), serial)

	_, _, ok = Reply(jt808.NewMessage(jt808.KindPlatformResponse, "1", 1, jt808.GeneralResponse{ReplySerial: 1}))
	assert.False(t, ok)
	_, _, ok = Reply(jt808.NewMessage(jt808.KindHeartbeat, "1", 1, jt808.Heartbeat{}))
	assert.False(t, ok)
}
