package capability

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// encMode uses Core Deterministic Encoding: sorted map keys, smallest
// integer encodings, no indefinite-length items. The same token always
// encodes to the same bytes.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("capability: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic("capability: CBOR decoder initialization failed: " + err.Error())
	}
}

// wireToken is the compact bearer form. Times are Unix nanoseconds.
type wireToken struct {
	ID                string `cbor:"1,keyasint"`
	Action            string `cbor:"2,keyasint"`
	Tool              string `cbor:"3,keyasint"`
	Resource          string `cbor:"4,keyasint,omitempty"`
	Expiry            int64  `cbor:"5,keyasint"`
	PolicyVersionHash string `cbor:"6,keyasint"`
	GrantedAt         int64  `cbor:"7,keyasint"`
	Signature         []byte `cbor:"8,keyasint"`
	KeyID             string `cbor:"9,keyasint"`
}

// Encode returns the CBOR bearer encoding of a signed token.
func Encode(t *Token) ([]byte, error) {
	if !t.IsSigned() {
		return nil, fmt.Errorf("%w: %s", ErrUnsigned, t.ID)
	}
	data, err := encMode.Marshal(wireToken{
		ID:                t.ID,
		Action:            t.Scope.Action,
		Tool:              t.Scope.Tool,
		Resource:          t.Scope.Resource,
		Expiry:            t.Expiry.UnixNano(),
		PolicyVersionHash: t.PolicyVersionHash,
		GrantedAt:         t.GrantedAt.UnixNano(),
		Signature:         t.Signature,
		KeyID:             t.KeyID,
	})
	if err != nil {
		return nil, fmt.Errorf("capability: encoding token: %w", err)
	}
	return data, nil
}

// Decode parses a CBOR bearer token. The signature is not checked here;
// use Token.VerifySignature or Store.Verify.
func Decode(data []byte) (*Token, error) {
	var w wireToken
	if err := decMode.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("capability: decoding token: %w", err)
	}
	if w.ID == "" || len(w.Signature) == 0 {
		return nil, fmt.Errorf("%w: bearer token missing id or signature", ErrInvalidToken)
	}
	return &Token{
		ID:                w.ID,
		Scope:             Scope{Action: w.Action, Tool: w.Tool, Resource: w.Resource},
		Expiry:            time.Unix(0, w.Expiry).UTC(),
		PolicyVersionHash: w.PolicyVersionHash,
		GrantedAt:         time.Unix(0, w.GrantedAt).UTC(),
		Signature:         w.Signature,
		KeyID:             w.KeyID,
	}, nil
}

// EncodeString returns the bearer encoding as unpadded base64url, for
// headers and JSON transports.
func EncodeString(t *Token) (string, error) {
	data, err := Encode(t)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeString parses the output of EncodeString.
func DecodeString(s string) (*Token, error) {
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("capability: decoding bearer string: %w", err)
	}
	return Decode(data)
}
