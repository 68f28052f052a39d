package catalogue

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Poster POSTs a JSON body to a URL.
type Poster interface {
	PostJSON(ctx context.Context, url string, body any) error
}

// Report summarises a Send run.
type Report struct {
	Sent   int
	Failed int
}

// Sender ships previews one by one to a downstream endpoint.
type Sender struct {
	poster Poster
	logger *zap.Logger
}

// NewSender builds a Sender.
func NewSender(poster Poster, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{poster: poster, logger: logger}
}

// Send POSTs every preview to url in order. Per-item failures are logged and
// counted but do not stop the loop; only cancellation does.
func (s *Sender) Send(ctx context.Context, url string, previews []Preview) (Report, error) {
	var report Report
	for i, preview := range previews {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("send canceled after %d previews: %w", i, err)
		}
		if err := s.poster.PostJSON(ctx, url, preview); err != nil {
			report.Failed++
			s.logger.Error("failed to send preview", zap.String("slug", preview.Slug), zap.Error(err))
			continue
		}
		report.Sent++
		s.logger.Debug("preview sent", zap.String("slug", preview.Slug))
	}
	s.logger.Info("catalogue send finished", zap.Int("sent", report.Sent), zap.Int("failed", report.Failed))
	return report, nil
}
