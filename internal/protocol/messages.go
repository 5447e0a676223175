package protocol

// Action names for the control-stream protocol (peer → directory server).
const (
	ActionHello            = "hello"
	ActionPublish          = "publish"
	ActionFetch            = "fetch"
	ActionListSharedFiles  = "list_shared_files"
	ActionPing             = "ping"
	ActionGetFile          = "get_file" // peer → peer
)

// Reply status values on the control stream.
const (
	StatusSuccess   = "success"
	StatusCreated   = "created"
	StatusUpdated   = "updated"
	StatusUnchanged = "unchanged"
	StatusConflict  = "conflict"
	StatusError     = "error"
)

// HelloRequest is the first message a peer must send on a control stream.
type HelloRequest struct {
	Hostname string
	P2PPort  int
}

// ParseHello extracts a HelloRequest from a raw message, reporting whether
// both required fields were present.
func ParseHello(msg Message) (HelloRequest, bool) {
	hostname, ok1 := msg["hostname"].(string)
	port, ok2 := asInt(msg["p2p_port"])
	if !ok1 || !ok2 || hostname == "" {
		return HelloRequest{}, false
	}
	return HelloRequest{Hostname: hostname, P2PPort: port}, true
}

// PublishRequest is the body of a publish action.
type PublishRequest struct {
	LName         string
	FName         string
	FileSize      int64
	LastModified  string
	AllowOverwrite bool
}

// ParsePublish extracts a PublishRequest, reporting whether the required
// lname/fname fields were present.
func ParsePublish(msg Message) (PublishRequest, bool) {
	lname, ok1 := msg["lname"].(string)
	fname, ok2 := msg["fname"].(string)
	if !ok1 || !ok2 || lname == "" || fname == "" {
		return PublishRequest{}, false
	}
	size, _ := asInt64(msg["file_size"])
	lastMod, _ := msg["last_modified"].(string)
	overwrite, _ := msg["allow_overwrite"].(bool)
	return PublishRequest{
		LName:          lname,
		FName:          fname,
		FileSize:       size,
		LastModified:   lastMod,
		AllowOverwrite: overwrite,
	}, true
}

// FetchRequest is the body of a fetch action.
type FetchRequest struct {
	FName string
}

// ParseFetch extracts a FetchRequest, reporting whether fname was present.
func ParseFetch(msg Message) (FetchRequest, bool) {
	fname, ok := msg["fname"].(string)
	if !ok || fname == "" {
		return FetchRequest{}, false
	}
	return FetchRequest{FName: fname}, true
}

// GetFileRequest is the body of a peer-to-peer get_file action.
type GetFileRequest struct {
	LName string
}

// ParseGetFile extracts a GetFileRequest, reporting whether lname was present.
func ParseGetFile(msg Message) (GetFileRequest, bool) {
	lname, ok := msg["lname"].(string)
	if !ok || lname == "" {
		return GetFileRequest{}, false
	}
	return GetFileRequest{LName: lname}, true
}

// Action returns the message's "action" field, or "" if absent/not a string.
func Action(msg Message) string {
	a, _ := msg["action"].(string)
	return a
}

// Error builds a {status: "error", message: ...} reply.
func Error(message string) Message {
	return Message{"status": StatusError, "message": message}
}

// Success builds a {status: "success", ...extra} reply.
func Success(message string, extra Message) Message {
	m := Message{"status": StatusSuccess}
	if message != "" {
		m["message"] = message
	}
	for k, v := range extra {
		m[k] = v
	}
	return m
}

// asInt coerces a decoded JSON number (float64) or an already-int value to int.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	default:
		return 0, false
	}
}

// asInt64 coerces a decoded JSON number (float64) or an already-int64 value to int64.
func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}
