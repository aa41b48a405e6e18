package dataset

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/nathann3/better-than-netflix-movie-recommender/core/affinity"
)

// ErrInvalidFraction reports user-split fractions outside [0, 1) or summing
// to 1 or more.
var ErrInvalidFraction = errors.New("dataset: fractions must be non-negative and sum below 1")

// UserSplit carves the interaction set into three disjoint user
// populations. Validation and test users are completely unseen during
// training, so evaluation measures generalization to new users rather than
// held-out items of known users.
type UserSplit struct {
	Train      []affinity.Record
	Validation []affinity.Record
	Test       []affinity.Record
}

// SplitUsers assigns each distinct user to exactly one population:
// round(testFrac*n) users to test, round(valFrac*n) to validation, the rest
// to training. Assignment is a seeded shuffle of the sorted user set, so a
// fixed seed reproduces the same populations; within each population the
// input record order is preserved.
func SplitUsers(records []affinity.Record, valFrac, testFrac float64, seed int64) (UserSplit, error) {
	if valFrac < 0 || testFrac < 0 || valFrac+testFrac >= 1 {
		return UserSplit{}, fmt.Errorf("%w: val %v, test %v", ErrInvalidFraction, valFrac, testFrac)
	}

	seen := make(map[string]struct{})
	users := make([]string, 0)
	for _, r := range records {
		if _, ok := seen[r.UserID]; ok {
			continue
		}
		seen[r.UserID] = struct{}{}
		users = append(users, r.UserID)
	}
	sort.Strings(users)

	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(users), func(a, b int) { users[a], users[b] = users[b], users[a] })

	n := len(users)
	nTest := int(math.Round(testFrac * float64(n)))
	nVal := int(math.Round(valFrac * float64(n)))

	group := make(map[string]int, n)
	for i, u := range users {
		switch {
		case i < nTest:
			group[u] = 2
		case i < nTest+nVal:
			group[u] = 1
		default:
			group[u] = 0
		}
	}

	var out UserSplit
	for _, r := range records {
		switch group[r.UserID] {
		case 2:
			out.Test = append(out.Test, r)
		case 1:
			out.Validation = append(out.Validation, r)
		default:
			out.Train = append(out.Train, r)
		}
	}
	return out, nil
}
