package events

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// ValidationError marks an event as permanently malformed. Consumers treat it
// as terminal: acknowledge and drop (or dead-letter), never redeliver forever.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid event: %s", e.Reason)
}

func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Validator checks raw stream payloads against the canonical schema. It is
// pure: no I/O, no mutation of shared state.
type Validator struct {
	// Secret is the shared HMAC key for event signatures. When empty,
	// signature presence is still required but not verified (dev mode).
	Secret []byte
}

// Validate parses and checks a raw JSON event. All failures are
// *ValidationError; any other error would indicate a bug.
func (v *Validator) Validate(raw []byte) (*ContentEvent, error) {
	var evt ContentEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		return nil, &ValidationError{Reason: fmt.Sprintf("unparseable JSON: %s", err)}
	}
	if err := v.Check(&evt); err != nil {
		return nil, err
	}
	return &evt, nil
}

// Check validates an already-decoded event.
func (v *Validator) Check(evt *ContentEvent) error {
	if evt.ID == "" {
		return &ValidationError{Reason: "missing id"}
	}
	if evt.AuthorDID == "" {
		return &ValidationError{Reason: "missing author_did"}
	}
	if evt.CreatedAt <= 0 {
		return &ValidationError{Reason: "missing or non-positive created_at"}
	}
	if _, err := ParseKind(string(evt.Kind)); err != nil {
		return &ValidationError{Reason: err.Error()}
	}
	if evt.Signature == "" {
		return &ValidationError{Reason: "missing signature"}
	}
	if len(v.Secret) > 0 {
		expect := SignEvent(v.Secret, evt)
		if !hmac.Equal([]byte(expect), []byte(evt.Signature)) {
			return &ValidationError{Reason: "signature mismatch"}
		}
	}
	return nil
}

// SignEvent computes the canonical HMAC-SHA256 signature over the identifying
// fields and body of an event. Producers call this before publishing.
func SignEvent(secret []byte, evt *ContentEvent) string {
	mac := hmac.New(sha256.New, secret)
	fmt.Fprintf(mac, "%s\x00%s\x00%d\x00%s\x00", evt.ID, evt.Kind, evt.CreatedAt, evt.AuthorDID)
	mac.Write(evt.Body)
	return hex.EncodeToString(mac.Sum(nil))
}
