package conversation

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/shresthakamal/try-on/internal/assets"
	"github.com/shresthakamal/try-on/internal/fetcher"
)

func newRealFetcher(cache assets.Cache, locator fetcher.Locator) *fetcher.Fetcher {
	return fetcher.New(cache, locator, fetcher.Config{Timeout: time.Second}, zerolog.Nop())
}
