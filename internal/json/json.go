// Package json routes all encoding through jsoniter, configured to behave like encoding/json.
package json

import jsoniter "github.com/json-iterator/go"

var (
	// JSON is the jsoniter instance used across the module.
	JSON = jsoniter.ConfigCompatibleWithStandardLibrary

	Marshal    = JSON.Marshal
	Unmarshal  = JSON.Unmarshal
	NewDecoder = JSON.NewDecoder
	NewEncoder = JSON.NewEncoder
)
