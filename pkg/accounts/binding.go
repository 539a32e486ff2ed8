package accounts

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// AccountBinding links a local account to its platform identity.
// Keys the platform adds later are kept in Extra and written back unchanged.
type AccountBinding struct {
	OpenID       string
	UnionID      string
	RemoteUserID string
	Position     string
	Extra        map[string]json.RawMessage
}

var bindingFields = map[string]struct{}{
	"openId":       {},
	"unionId":      {},
	"remoteUserId": {},
	"position":     {},
}

// MarshalJSON writes the known fields next to the preserved unknown ones
func (b AccountBinding) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(b.Extra)+4)
	for k, v := range b.Extra {
		if _, known := bindingFields[k]; !known {
			out[k] = v
		}
	}
	out["openId"] = b.OpenID
	out["unionId"] = b.UnionID
	out["remoteUserId"] = b.RemoteUserID
	if b.Position != "" {
		out["position"] = b.Position
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads the known fields and stashes everything else in Extra
func (b *AccountBinding) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*b = AccountBinding{}
	for k, v := range raw {
		var target *string
		switch k {
		case "openId":
			target = &b.OpenID
		case "unionId":
			target = &b.UnionID
		case "remoteUserId":
			target = &b.RemoteUserID
		case "position":
			target = &b.Position
		default:
			if b.Extra == nil {
				b.Extra = make(map[string]json.RawMessage)
			}
			b.Extra[k] = v
			continue
		}
		if bytes.Equal(v, []byte("null")) {
			continue
		}
		if err := json.Unmarshal(v, target); err != nil {
			return fmt.Errorf("binding field %s: %w", k, err)
		}
	}
	return nil
}

// MergeBinding overlays incoming onto existing. Empty incoming fields keep the existing
// value and unknown fields from both sides survive, incoming winning on key clashes.
func MergeBinding(existing, incoming *AccountBinding) *AccountBinding {
	if existing == nil && incoming == nil {
		return nil
	}
	merged := &AccountBinding{}
	if existing != nil {
		*merged = *existing
		merged.Extra = nil
	}
	if incoming != nil {
		merged.OpenID = pick(incoming.OpenID, merged.OpenID)
		merged.UnionID = pick(incoming.UnionID, merged.UnionID)
		merged.RemoteUserID = pick(incoming.RemoteUserID, merged.RemoteUserID)
		merged.Position = pick(incoming.Position, merged.Position)
	}

	for _, src := range []*AccountBinding{existing, incoming} {
		if src == nil {
			continue
		}
		for k, v := range src.Extra {
			if merged.Extra == nil {
				merged.Extra = make(map[string]json.RawMessage)
			}
			merged.Extra[k] = v
		}
	}
	return merged
}

func pick(preferred, fallback string) string {
	if preferred != "" {
		return preferred
	}
	return fallback
}

// Binding decodes the account's binding; it returns nil, nil when the account is unbound
func (a *Account) Binding() (*AccountBinding, error) {
	raw, ok := a.Attributes[BindingKey]
	if !ok || len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	var b AccountBinding
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("failed to decode binding of account %d: %w", a.ID, err)
	}
	return &b, nil
}

// IsBound reports whether the account carries a binding with a remote user id
func (a *Account) IsBound() bool {
	b, err := a.Binding()
	return err == nil && b != nil && b.RemoteUserID != ""
}

// SetBinding merges b into the stored binding, leaving every other attribute untouched
func (a *Account) SetBinding(b *AccountBinding) error {
	existing, err := a.Binding()
	if err != nil {
		return err
	}
	data, err := json.Marshal(MergeBinding(existing, b))
	if err != nil {
		return fmt.Errorf("failed to encode binding: %w", err)
	}
	if a.Attributes == nil {
		a.Attributes = make(map[string]json.RawMessage)
	}
	a.Attributes[BindingKey] = data
	return nil
}

// ClearBinding removes the binding and reports whether there was one
func (a *Account) ClearBinding() bool {
	if _, ok := a.Attributes[BindingKey]; !ok {
		return false
	}
	delete(a.Attributes, BindingKey)
	return true
}

// boundRemoteID is the remote user id of the account's binding, or ""
func (a *Account) boundRemoteID() string {
	b, err := a.Binding()
	if err != nil || b == nil {
		return ""
	}
	return b.RemoteUserID
}
