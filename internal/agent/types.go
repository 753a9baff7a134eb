// Package agent implements clients for the remote chat service.
package agent

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ashureev/crmchat/internal/domain"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

var (
	// ErrUnavailable wraps transport failures talking to the chat service.
	ErrUnavailable = errors.New("chat service unavailable")
	// ErrBadResponse is returned when the chat service answers with an error
	// or with a payload that cannot be decoded.
	ErrBadResponse = errors.New("chat service returned an invalid response")
)

// resetRequest is the body of a reset call.
type resetRequest struct {
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	ResetType string `json:"reset_type"`
}

// toStruct converts a JSON-tagged value to a protobuf Struct.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("convert payload: %w", err)
	}
	return s, nil
}

// fromStruct decodes a protobuf Struct into a JSON-tagged value.
func fromStruct(s *structpb.Struct, v any) error {
	data, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	return nil
}

func validateReply(reply *domain.ChatReply) error {
	if reply == nil {
		return fmt.Errorf("%w: empty reply", ErrBadResponse)
	}
	return nil
}
