// Package seed fills an account with generated actions and activity so the
// dashboard has something to draw.
package seed

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/tallyhq/tally/internal/tracker"
)

const (
	DefaultActions = 3
	DefaultDays    = 30

	maxDelta = 3
)

// Options controls how much data Generate writes.
type Options struct {
	Actions int
	Days    int
	// Rand picks each day's delta; nil uses a time-seeded source.
	Rand *rand.Rand
	// Now anchors the most recent day; nil uses time.Now.
	Now func() time.Time
}

// Result reports what was written.
type Result struct {
	Actions []*tracker.Action
	Logs    int
}

// Generate creates opts.Actions actions named "Test Action N" for userID and
// logs one entry per action per day for the last opts.Days days, with a
// delta between 0 and 3. Names already taken by the user are skipped.
func Generate(ctx context.Context, svc *tracker.Service, userID int64, opts Options) (*Result, error) {
	if opts.Actions < 0 || opts.Days < 0 {
		return nil, fmt.Errorf("seed: actions and days must not be negative")
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	now := opts.Now().UTC()

	res := &Result{}
	for n := 1; len(res.Actions) < opts.Actions; n++ {
		a, err := svc.CreateAction(ctx, userID, tracker.ActionInput{
			Name:       fmt.Sprintf("Test Action %d", n),
			Notes:      "Generated for testing",
			Properties: tracker.Properties{"unit": "count"},
		})
		if errors.Is(err, tracker.ErrDuplicateAction) {
			continue
		}
		if err != nil {
			return res, fmt.Errorf("seed: create action: %w", err)
		}
		res.Actions = append(res.Actions, a)
	}

	for _, a := range res.Actions {
		for day := 0; day < opts.Days; day++ {
			ts := now.AddDate(0, 0, -day)
			_, _, err := svc.LogActivityAt(ctx, userID, a.ID, ts, tracker.LogInput{
				Delta:  int64(opts.Rand.IntN(maxDelta + 1)),
				Note:   fmt.Sprintf("Fake log for %s on %s", a.Name, ts.Format(time.DateOnly)),
				Source: "seed",
			})
			if err != nil {
				return res, fmt.Errorf("seed: log %s: %w", a.Name, err)
			}
			res.Logs++
		}
	}
	return res, nil
}
