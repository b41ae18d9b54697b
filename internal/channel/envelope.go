package channel

import "encoding/json"

// Envelope is the gateway's wire frame. Seq is a gateway-global,
// strictly increasing number used to deduplicate during transport
// upgrades; control frames (authenticate, authenticated, error) carry
// no seq.
type Envelope struct {
	Seq   uint64          `json:"seq,omitempty"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Control frame names exchanged with the gateway.
const (
	eventAuthenticate  = "authenticate"
	eventAuthenticated = "authenticated"
	eventError         = "error"
)

type authenticateData struct {
	Token string `json:"token"`
}

type authenticatedData struct {
	Role   string `json:"role"`
	Cursor uint64 `json:"cursor,omitempty"`
}

type errorData struct {
	Message string `json:"message"`
}
