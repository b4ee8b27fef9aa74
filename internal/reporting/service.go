package reporting

import (
	"context"
	"errors"
	"sort"
	"time"

	"voice-gateway/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// DefaultWindow is how far back the analytics endpoints look.
const DefaultWindow = 30 * 24 * time.Hour

const dayLayout = "2006-01-02"

// Repository returns calls whose start time falls in [from, to).
type Repository interface {
	ListCallsBetween(ctx context.Context, from, to time.Time) ([]calls.Call, error)
}

type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// LastWindow returns the range ending now and reaching back DefaultWindow.
func (s *Service) LastWindow() TimeRange {
	to := s.now().UTC()
	return TimeRange{From: to.Add(-DefaultWindow), To: to}
}

func (s *Service) load(ctx context.Context, r TimeRange) ([]calls.Call, error) {
	if r.From.IsZero() || r.To.IsZero() || !r.To.After(r.From) {
		return nil, ErrInvalidRequest
	}
	if s.repo == nil {
		return nil, errors.New("reporting: repository not configured")
	}
	return s.repo.ListCallsBetween(ctx, r.From, r.To)
}

func (s *Service) Overview(ctx context.Context, r TimeRange) (Overview, error) {
	rows, err := s.load(ctx, r)
	if err != nil {
		return Overview{}, err
	}

	out := Overview{Range: r}
	clientsSeen := make(map[string]struct{})
	finalized := 0
	for _, c := range rows {
		out.TotalCalls++
		clientsSeen[c.ClientID] = struct{}{}
		switch c.Status {
		case calls.CallStatusCompleted:
			out.CompletedCalls++
		case calls.CallStatusFailed:
			out.FailedCalls++
		case calls.CallStatusInProgress:
			out.InProgressCalls++
		}
		if c.DurationSeconds != nil {
			finalized++
			out.TotalDurationSeconds += *c.DurationSeconds
		}
	}
	out.ActiveClients = len(clientsSeen)
	if finalized > 0 {
		out.AverageDurationSeconds = float64(out.TotalDurationSeconds) / float64(finalized)
	}
	return out, nil
}

// CallVolume counts calls per UTC day, oldest first. Days without calls are
// omitted.
func (s *Service) CallVolume(ctx context.Context, r TimeRange) ([]DayVolume, error) {
	rows, err := s.load(ctx, r)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	for _, c := range rows {
		counts[c.StartTime.UTC().Format(dayLayout)]++
	}
	out := make([]DayVolume, 0, len(counts))
	for day, n := range counts {
		out = append(out, DayVolume{Date: day, CallCount: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}
