package envelope

import (
	"fmt"
	"os"

	"github.com/podushkina/taskenvelope/internal/serializer"
)

// DefaultReprMaxSize bounds argsrepr and kwargsrepr.
const DefaultReprMaxSize = 1024

// Options configures Encode. Zero fields fall back to the defaults.
type Options struct {
	ContentType     string
	ContentEncoding string
	Origin          string
	ReprMaxSize     int
}

// DefaultOptions returns JSON/utf-8 options with origin set to this process.
func DefaultOptions() Options {
	return Options{
		ContentType:     serializer.JSON().ContentType(),
		ContentEncoding: serializer.EncodingUTF8,
		Origin:          ProcessOrigin(),
		ReprMaxSize:     DefaultReprMaxSize,
	}
}

// ProcessOrigin returns "gen<pid>@<hostname>".
func ProcessOrigin() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("gen%d@%s", os.Getpid(), host)
}
