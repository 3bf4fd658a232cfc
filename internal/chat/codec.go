package chat

import (
	"encoding/json"
	"fmt"
)

type inboundFrame struct {
	Message *string `json:"message"`
}

type outboundFrame struct {
	Message string `json:"message"`
	User    string `json:"user"`
}

type errorFrame struct {
	Error string `json:"error"`
}

// DecodeInbound accepts only a JSON object carrying a string "message".
func DecodeInbound(raw []byte) (string, error) {
	var in inboundFrame
	if err := json.Unmarshal(raw, &in); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if in.Message == nil {
		return "", fmt.Errorf("%w: message field is required", ErrMalformedFrame)
	}
	return *in.Message, nil
}

func EncodeOutbound(ev ChatMessageEvent) ([]byte, error) {
	return json.Marshal(outboundFrame{Message: ev.Message, User: ev.User})
}

func encodeError(msg string) []byte {
	b, _ := json.Marshal(errorFrame{Error: msg})
	return b
}
