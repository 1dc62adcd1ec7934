package jsonx

import "github.com/goccy/go-json"

// Update payloads and image host responses decode through here so the JSON
// implementation can be swapped in one place.
var (
	Marshal    = json.Marshal
	Unmarshal  = json.Unmarshal
	NewDecoder = json.NewDecoder
	NewEncoder = json.NewEncoder
)

type RawMessage = json.RawMessage
