package tools

import (
	"encoding/json"
	"fmt"
)

// FormatResult renders a dispatch outcome as tool message content. Errors
// become "error: <reason>" so the model can read and react to them. Payloads
// other than text are encoded as JSON; a payload whose encoding panics is
// reported as not serializable.
func FormatResult(payload any, err error) (out string) {
	if err != nil {
		return "error: " + err.Error()
	}

	switch v := payload.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case json.RawMessage:
		return string(v)
	}

	defer func() {
		if p := recover(); p != nil {
			out = fmt.Sprintf("error: result is not serializable: %v", p)
		}
	}()

	data, mErr := json.Marshal(payload)
	if mErr != nil {
		return fmt.Sprintf("error: result is not serializable: %v", mErr)
	}
	return string(data)
}
