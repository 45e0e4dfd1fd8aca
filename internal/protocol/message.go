package protocol

// StandardMessage represents the unified message format published upstream
type StandardMessage struct {
	DeviceID  string                 `json:"device_id"`
	Protocol  string                 `json:"protocol"`
	Type      string                 `json:"type"` // "AUTH", "LOCATION", "HEARTBEAT", etc.
	Kind      uint16                 `json:"kind"` // wire message id
	Serial    uint16                 `json:"serial"`
	Timestamp int64                  `json:"timestamp"`
	Lat       float64                `json:"lat,omitempty"`
	Lon       float64                `json:"lon,omitempty"`
	Speed     float64                `json:"speed,omitempty"`
	Direction float64                `json:"direction,omitempty"`
	Extras    map[string]interface{} `json:"extras"`
	Warnings  []string               `json:"warnings,omitempty"`
}

// StandardCommand represents a command to be sent to a device
type StandardCommand struct {
	CommandID string                 `json:"command_id,omitempty"`
	DeviceID  string                 `json:"device_id"`
	Type      string                 `json:"type"`
	Params    map[string]interface{} `json:"params"`
}

// CommandResponse reports how a device answered a StandardCommand
type CommandResponse struct {
	CommandID string                 `json:"command_id"`
	DeviceID  string                 `json:"device_id"`
	Type      string                 `json:"type"`
	Serial    uint16                 `json:"serial"`
	Status    string                 `json:"status"` // success, failed, timeout
	Result    string                 `json:"result,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp int64                  `json:"timestamp"`
}

// Message types
const (
	MsgTypeAuth       = "AUTH"
	MsgTypeRegister   = "REGISTER"
	MsgTypeLocation   = "LOCATION"
	MsgTypeHeartbeat  = "HEARTBEAT"
	MsgTypeAlarm      = "ALARM"
	MsgTypeMedia      = "MEDIA"
	MsgTypeResponse   = "RESPONSE"
	MsgTypeParameters = "PARAMETERS"
	MsgTypeUnknown    = "UNKNOWN"
)

// Command types
const (
	CmdTerminalControl = "TERMINAL_CONTROL" // 0x8105
	CmdPhotoCapture    = "PHOTO_CAPTURE"    // 0x8801
	CmdGetParams       = "GET_PARAMS"       // 0x8104
	CmdSetParams       = "SET_PARAMS"       // 0x8103
	CmdLocationQuery   = "LOCATION_QUERY"   // 0x8201
	CmdRealtimeMedia   = "REALTIME_MEDIA"   // 0x9101
	CmdGeneralAck      = "GENERAL_ACK"      // 0x8001
)

// Command statuses
const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusTimeout = "timeout"
)
