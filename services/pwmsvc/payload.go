package pwmsvc

import (
	"encoding/json"

	"pwmcore-go/errcode"
)

// decode converts a control payload to T. In-process callers send T
// itself; anything else (maps, raw JSON bytes or strings) goes through a
// JSON round trip. A nil payload yields the zero T.
func decode[T any](payload any) (T, error) {
	var out T
	switch v := payload.(type) {
	case nil:
		return out, nil
	case T:
		return v, nil
	case *T:
		if v != nil {
			return *v, nil
		}
		return out, nil
	case []byte:
		if err := json.Unmarshal(v, &out); err != nil {
			return out, errcode.Wrap(errcode.InvalidPayload, "pwmsvc.decode", err)
		}
		return out, nil
	case string:
		if err := json.Unmarshal([]byte(v), &out); err != nil {
			return out, errcode.Wrap(errcode.InvalidPayload, "pwmsvc.decode", err)
		}
		return out, nil
	default:
		b, err := json.Marshal(v)
		if err == nil {
			err = json.Unmarshal(b, &out)
		}
		if err != nil {
			return out, errcode.Wrap(errcode.InvalidPayload, "pwmsvc.decode", err)
		}
		return out, nil
	}
}

// decodeRequired is decode that refuses a missing payload.
func decodeRequired[T any](payload any) (T, error) {
	if payload == nil {
		var zero T
		return zero, errcode.New(errcode.InvalidPayload, "pwmsvc.decode", "payload required")
	}
	return decode[T](payload)
}
