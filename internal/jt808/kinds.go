package jt808

import "fmt"

// Message kinds. Terminal-originated kinds start with 0x0, platform commands
// with 0x8, JT/T 1078 media commands with 0x9.
const (
	KindTerminalResponse      uint16 = 0x0001
	KindHeartbeat             uint16 = 0x0002
	KindTerminalRegister      uint16 = 0x0100
	KindTerminalAuth          uint16 = 0x0102
	KindParametersResponse    uint16 = 0x0104
	KindLocationReport        uint16 = 0x0200
	KindLocationQueryResponse uint16 = 0x0201
	KindMultimediaEvent       uint16 = 0x0800
	KindMultimediaUpload      uint16 = 0x0801

	KindPlatformResponse     uint16 = 0x8001
	KindRegisterResponse     uint16 = 0x8100
	KindSetParameters        uint16 = 0x8103
	KindQueryParameters      uint16 = 0x8104
	KindTerminalControl      uint16 = 0x8105
	KindLocationQuery        uint16 = 0x8201
	KindPhotoCapture         uint16 = 0x8801
	KindRealtimeMediaRequest uint16 = 0x9101
)

var kindNames = map[uint16]string{
	KindTerminalResponse:      "terminal response",
	KindHeartbeat:             "heartbeat",
	KindTerminalRegister:      "terminal registration",
	KindTerminalAuth:          "terminal auth",
	KindParametersResponse:    "parameters response",
	KindLocationReport:        "location report",
	KindLocationQueryResponse: "location query response",
	KindMultimediaEvent:       "multimedia event",
	KindMultimediaUpload:      "multimedia upload",
	KindPlatformResponse:      "platform response",
	KindRegisterResponse:      "registration response",
	KindSetParameters:         "set parameters",
	KindQueryParameters:       "query parameters",
	KindTerminalControl:       "terminal control",
	KindLocationQuery:         "location query",
	KindPhotoCapture:          "photo capture",
	KindRealtimeMediaRequest:  "realtime media request",
}

// KindName returns a readable name for kind, or its hex form.
func KindName(kind uint16) string {
	if name, ok := kindNames[kind]; ok {
		return name
	}
	return fmt.Sprintf("0x%04X", kind)
}

// IsTerminalKind reports whether kind is sent by terminals.
func IsTerminalKind(kind uint16) bool {
	return kind&0x8000 == 0
}
