package governancev1

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// VerifyTokenRequest asks whether a stored token authorizes a use now.
type VerifyTokenRequest struct {
	TokenID  string `json:"token_id"`
	Action   string `json:"action"`
	Tool     string `json:"tool"`
	Resource string `json:"resource,omitempty"`
}

// VerifyTokenResponse carries only a boolean; failure causes are not
// distinguished.
type VerifyTokenResponse struct {
	Valid bool `json:"valid"`
}

// PolicyVersionResponse describes the published policy graph.
type PolicyVersionResponse struct {
	PolicyVersionHash string `json:"policy_version_hash"`
	Terms             int    `json:"terms"`
	Relations         int    `json:"relations"`
}

// ToStruct converts v to a Struct through its JSON form.
func ToStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("governance: encode message: %w", err)
	}
	s := new(structpb.Struct)
	if err := protojson.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("governance: encode message: %w", err)
	}
	return s, nil
}

// FromStruct decodes s into v through its JSON form.
func FromStruct(s *structpb.Struct, v any) error {
	if s == nil {
		s = new(structpb.Struct)
	}
	data, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("governance: decode message: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("governance: decode message: %w", err)
	}
	return nil
}
