package reporting

import (
	"context"
	"errors"
	"time"

	"callbridge/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Lister is the slice of the call store reporting reads from. Reports only
// consume finished history; they never mutate.
type Lister interface {
	ListByOrg(ctx context.Context, orgID string, from, to time.Time) ([]calls.Call, error)
}

type Service struct {
	store Lister
}

func NewService(store Lister) *Service { return &Service{store: store} }

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if req.OrgID == "" {
		return CallsSummary{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.store == nil {
		return CallsSummary{}, errors.New("reporting: store not configured")
	}

	rows, err := s.store.ListByOrg(ctx, req.OrgID, req.Range.From, req.Range.To)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{OrgID: req.OrgID}
	answered := 0
	for _, c := range rows {
		out.TotalCalls++
		switch c.Status {
		case calls.StatusEnded:
			out.EndedCalls++
			answered++
			if !c.EndedAt.IsZero() && c.EndedAt.After(c.CreatedAt) {
				out.TotalDurationSeconds += int(c.EndedAt.Sub(c.CreatedAt).Seconds())
			}
		case calls.StatusDeclined:
			out.DeclinedCalls++
		case calls.StatusCanceled:
			out.CanceledCalls++
		case calls.StatusMissed:
			out.MissedCalls++
		case calls.StatusAccepted:
			out.ActiveCalls++
			answered++
		case calls.StatusInitiated, calls.StatusRinging:
			out.ActiveCalls++
		}
	}

	// Accepted-but-ongoing calls count as answered; still-ringing ones are
	// excluded from the rate entirely.
	if denom := answered + out.DeclinedCalls + out.CanceledCalls + out.MissedCalls; denom > 0 {
		out.AnswerRate = float64(answered) / float64(denom)
	}
	if out.EndedCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.EndedCalls
	}
	return out, nil
}
