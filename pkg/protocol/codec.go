package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotObject is returned by Decode for lines that are valid JSON but not an
// object.
var ErrNotObject = errors.New("message is not a JSON object")

// Encode marshals m as one compact JSON object terminated by a newline.
func Encode(m Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", m.Type, err)
	}
	return append(data, '\n'), nil
}

// Decode parses one line. A missing type on a message that carries a status
// together with a running or max count is read as server_status, the shape
// older servers send.
func Decode(line []byte) (Message, error) {
	var m Message
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return m, ErrNotObject
	}
	if err := json.Unmarshal(trimmed, &m); err != nil {
		return m, fmt.Errorf("unmarshal message: %w", err)
	}
	if m.Type == "" && m.Status != nil &&
		(m.RunningJobs != nil || m.Running != nil || m.MaxJobs != nil || m.Max != nil) {
		m.Type = MsgServerStatus
	}
	return m, nil
}

// Preview returns at most LogPreviewBytes of line for logging.
func Preview(line []byte) string {
	if len(line) > LogPreviewBytes {
		line = line[:LogPreviewBytes]
	}
	return string(line)
}
