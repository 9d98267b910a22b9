package device

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// Info is the panel description the controller reports in the headers of GET /.
type Info struct {
	Width       uint32 `json:"width"`
	Height      uint32 `json:"height"`
	Temperature int32  `json:"temperature"`
}

func (i Info) String() string {
	return fmt.Sprintf("%dx%d @ %d°C", i.Width, i.Height, i.Temperature)
}

// InfoFromHeader parses the width, height and temperature headers.
func InfoFromHeader(h http.Header) (Info, error) {
	width, err := headerUint(h, "width")
	if err != nil {
		return Info{}, err
	}
	height, err := headerUint(h, "height")
	if err != nil {
		return Info{}, err
	}
	raw := strings.TrimSpace(h.Get("temperature"))
	if raw == "" {
		return Info{}, &ProtocolError{Path: rootPath, Field: "temperature", Reason: "header missing"}
	}
	temp, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		return Info{}, &ProtocolError{Path: rootPath, Field: "temperature", Value: raw, Reason: "is not an integer"}
	}
	return Info{Width: width, Height: height, Temperature: int32(temp)}, nil
}

func headerUint(h http.Header, name string) (uint32, error) {
	raw := strings.TrimSpace(h.Get(name))
	if raw == "" {
		return 0, &ProtocolError{Path: rootPath, Field: name, Reason: "header missing"}
	}
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, &ProtocolError{Path: rootPath, Field: name, Value: raw, Reason: "is not an unsigned integer"}
	}
	return uint32(v), nil
}
