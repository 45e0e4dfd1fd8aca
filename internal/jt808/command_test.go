package jt808

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestControlCommandNames(t *testing.T) {
	for _, c := range []ControlCommand{ControlRestart, ControlShutdownCircuit, ControlDisconnectOil, ControlRecoverOil, ControlRecoverCircuit} {
		got, ok := ParseControlCommand(c.String())
		require.True(t, ok, c.String())
		assert.Equal(t, c, got)
	}
	assert.Equal(t, "control(0x99)", ControlCommand(0x99).String())

	_, ok := ParseControlCommand("self-destruct")
	assert.False(t, ok)
}

func TestPhotoCaptureLayout(t *testing.T) {
	body, err := PhotoCapture{Channel: 1, EventSource: 2, Format: 3, Resolution: 4, Quality: 5, Brightness: 6, Contrast: 7, Saturation: 8}.AppendBody(nil, &Header{})
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, body)

	_, err = decodePhotoCapture(&Header{}, body[:7])
	assert.ErrorIs(t, err, ErrMalformedBody)
}

func TestParameterQueryLayout(t *testing.T) {
	body, err := ParameterQuery{IDs: []uint32{0x0001, 0x0055}}.AppendBody(nil, &Header{})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02, 0, 0, 0, 0x01, 0, 0, 0, 0x55}, body)

	_, err = decodeParameterQuery(&Header{}, body[:6])
	assert.ErrorIs(t, err, ErrMalformedBody)

	// a zero count asks for everything, like an empty body
	q, err := decodeParameterQuery(&Header{}, []byte{0x00})
	require.NoError(t, err)
	assert.Nil(t, q.IDs)
	body, err = q.AppendBody(nil, &Header{})
	require.NoError(t, err)
	assert.Empty(t, body)
}

func TestParameterValues(t *testing.T) {
	p := Uint32Param(ParamHeartbeatInterval, 60)
	v, ok := p.Uint32()
	require.True(t, ok)
	assert.Equal(t, uint32(60), v)

	s, err := StringParam(ParamServerAddress, "平台.example")
	require.NoError(t, err)
	assert.Equal(t, "平台.example", s.String())

	_, ok = Parameter{Value: []byte{1, 2, 3}}.Uint32()
	assert.False(t, ok)

	resp := ParametersResponse{Params: []Parameter{p, s}}
	got, ok := resp.Param(ParamServerAddress)
	require.True(t, ok)
	assert.Equal(t, s, got)
	_, ok = resp.Param(0xFFFF)
	assert.False(t, ok)
}

func TestSetParametersToleratesStaleCount(t *testing.T) {
	// Count byte says 1 but two parameters follow.
	body := []byte{0x01, 0, 0, 0, 0x01, 0x01, 0x1E, 0, 0, 0, 0x02, 0x01, 0x3C}
	got, err := decodeSetParameters(&Header{}, body)
	require.NoError(t, err)
	assert.Equal(t, SetParameters{Params: []Parameter{{ID: 1, Value: []byte{0x1E}}, {ID: 2, Value: []byte{0x3C}}}}, got)
}
