// Package tokens estimates how many model tokens a piece of text uses.
package tokens

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
	"go.uber.org/zap"
)

// fallbackEncoding is used for models the tiktoken tables do not know yet.
const fallbackEncoding = "cl100k_base"

var useOfflineBPE sync.Once

// Counter counts tokens with the model's BPE encoding, or estimates them at
// four characters per token when no encoding can be loaded.
type Counter struct {
	enc *tiktoken.Tiktoken
}

func New(model string, logger *zap.Logger) *Counter {
	if logger == nil {
		logger = zap.NewNop()
	}
	// BPE ranks ship with the binary, so counting never touches the network.
	useOfflineBPE.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})

	enc, err := tiktoken.EncodingForModel(model)
	if err == nil {
		return &Counter{enc: enc}
	}
	logger.Debug("No token encoding for model, using "+fallbackEncoding,
		zap.String("model", model),
		zap.Error(err))

	enc, err = tiktoken.GetEncoding(fallbackEncoding)
	if err != nil {
		logger.Warn("Failed to load token encoding, estimating from length",
			zap.String("model", model),
			zap.Error(err))
		return &Counter{}
	}
	return &Counter{enc: enc}
}

func (c *Counter) Count(text string) int {
	if c == nil || c.enc == nil {
		return (utf8.RuneCountInString(text) + 3) / 4
	}
	return len(c.enc.Encode(text, nil, nil))
}
