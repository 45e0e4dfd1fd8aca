package protocol

// ProtocolAdapter translates between binary frames and the standard format
type ProtocolAdapter interface {
	// Decode translates one frame to a standard message
	Decode(frame []byte) (*StandardMessage, error)

	// Encode translates a standard command to one frame for the device
	Encode(cmd StandardCommand, serial uint16) ([]byte, error)

	// Protocol returns protocol identifier
	Protocol() string
}
