// internal/advisor/poll.go
package advisor

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Response is one provider's outcome of a poll.
type Response struct {
	Provider Provider
	Opinion  Opinion
	Err      error
}

// Poll queries every eligible provider concurrently. One provider's failure
// never cancels the others; health is updated from each outcome.
func (r *Registry) Poll(ctx context.Context, req Request) []Response {
	providers := r.Eligible()
	responses := make([]Response, len(providers))

	var g errgroup.Group
	for i, p := range providers {
		g.Go(func() error {
			op, err := safeAdvise(ctx, p.Advisor, req)
			responses[i] = Response{Provider: p, Opinion: op, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	for _, resp := range responses {
		if resp.Err != nil {
			r.ReportFailure(resp.Provider.Name, resp.Err)
			r.logger.Debug("Advisor did not respond",
				zap.String("provider", resp.Provider.Name),
				zap.String("kind", string(req.Kind)),
				zap.Error(resp.Err))
			continue
		}
		r.ReportSuccess(resp.Provider.Name)
	}
	return responses
}

func safeAdvise(ctx context.Context, a Advisor, req Request) (op Opinion, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("advisor %s panicked: %v", a.Name(), rec)
		}
	}()
	return a.Advise(ctx, req)
}
