// Package protocol implements the JIM wire protocol: JSON frames with a
// length prefix, plus the field and action vocabulary shared by server and
// client.
package protocol

// Frame field keys.
const (
	KeyAction      = "action"
	KeyTime        = "time"
	KeyUser        = "user"
	KeyAccountName = "account_name"
	KeyPassword    = "password"
	KeySender      = "from"
	KeyDestination = "to"
	KeyMessageText = "mess_text"
	KeyResponse    = "response"
	KeyError       = "error"
	KeyListInfo    = "list_info"
)

// Actions a client may send.
const (
	ActionPresence     = "presence"
	ActionMessage      = "message"
	ActionExit         = "exit"
	ActionGetContacts  = "get_contacts"
	ActionAddContact   = "add_contact"
	ActionDelContact   = "del_contact"
	ActionUsersRequest = "users_request"
)

// Response codes.
const (
	StatusOK         = 200
	StatusAccepted   = 202
	StatusBadRequest = 400
)

// Frame is one JIM message: a flat-ish JSON object keyed by strings.
type Frame map[string]any

// Action returns the frame's action field, or "" if absent.
func (f Frame) Action() string {
	s, _ := f[KeyAction].(string)
	return s
}

// String returns the named field as a string, or "" if absent or not a string.
func (f Frame) String(key string) string {
	s, _ := f[key].(string)
	return s
}

// Sub returns a nested object field, or nil.
func (f Frame) Sub(key string) Frame {
	switch v := f[key].(type) {
	case map[string]any:
		return Frame(v)
	case Frame:
		return v
	default:
		return nil
	}
}

// Response returns the numeric response code, or 0 if the frame carries none.
// JSON numbers decode as float64.
func (f Frame) Response() int {
	switch v := f[KeyResponse].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

// AccountName extracts the presence identity from the nested user object.
func (f Frame) AccountName() string {
	if u := f.Sub(KeyUser); u != nil {
		return u.String(KeyAccountName)
	}
	return ""
}

// OK builds a 200 response.
func OK() Frame {
	return Frame{KeyResponse: StatusOK}
}

// Accepted builds a 202 response carrying a list of names.
func Accepted(list []string) Frame {
	if list == nil {
		list = []string{}
	}
	return Frame{KeyResponse: StatusAccepted, KeyListInfo: list}
}

// BadRequest builds a 400 response with a human-readable reason.
func BadRequest(reason string) Frame {
	return Frame{KeyResponse: StatusBadRequest, KeyError: reason}
}
