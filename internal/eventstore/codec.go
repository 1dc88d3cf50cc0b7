package eventstore

import (
	"fmt"

	"openconsent/internal/consent/models"
)

// codec serializes event payloads for storage, sealing sensitive kinds
// through the cipher. Both store implementations share it so encrypted rows
// written by one are readable by the other.
type codec struct {
	cipher Cipher
}

// encode marshals the event and seals it when its kind is sensitive.
func (c codec) encode(event models.Event) (payload []byte, encrypted bool, err error) {
	data, err := models.EncodeEvent(event)
	if err != nil {
		return nil, false, err
	}
	if !models.SensitiveKinds[event.Kind()] {
		return data, false, nil
	}
	sealed, err := c.cipher.Encrypt(data)
	if err != nil {
		return nil, false, fmt.Errorf("seal %s payload: %w", event.Kind(), err)
	}
	return sealed, true, nil
}

// decode reverses encode. The stored encrypted flag is authoritative; the
// cipher's own detection is a secondary guard against mislabeled rows.
func (c codec) decode(kind models.EventKind, payload []byte, encrypted bool) (models.Event, error) {
	data := payload
	if encrypted || c.cipher.IsEncrypted(payload) {
		opened, err := c.cipher.Decrypt(payload)
		if err != nil {
			return nil, fmt.Errorf("open %s payload: %w", kind, err)
		}
		data = opened
	}
	return models.DecodeEvent(kind, data)
}
