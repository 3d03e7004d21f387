package dbpool

import (
	"errors"
	"fmt"
	"testing"

	"github.com/relaypool/dbpool/driver"
)

type fakeDriverError struct {
	state    string
	code     int
	category driver.ErrorCategory
	cause    error
}

func (e *fakeDriverError) Error() string             { return fmt.Sprintf("fake: state=%s code=%d", e.state, e.code) }
func (e *fakeDriverError) SQLState() string           { return e.state }
func (e *fakeDriverError) Code() int                  { return e.code }
func (e *fakeDriverError) Category() driver.ErrorCategory { return e.category }
func (e *fakeDriverError) Unwrap() error              { return e.cause }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Classification
	}{
		{"nil", nil, Application},
		{"no data prefix", &fakeDriverError{state: "02000"}, NoData},
		{"comm prefix 08", &fakeDriverError{state: "08003"}, Communication},
		{"comm exact state", &fakeDriverError{state: "57P01"}, Communication},
		{"comm numeric code", &fakeDriverError{code: 2399}, Communication},
		{"comm category", &fakeDriverError{category: driver.CategoryTimeout}, Communication},
		{"system exact state", &fakeDriverError{state: "0A000"}, System},
		{"system numeric code", &fakeDriverError{code: 600}, System},
		{"system category", &fakeDriverError{category: driver.CategoryNonTransient}, System},
		{"unmapped state falls to application", &fakeDriverError{state: "42601"}, Application},
		{"non driver error", errors.New("boom"), Application},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.err); got != tc.want {
				t.Fatalf("Classify(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestClassify_WalksCauseChain(t *testing.T) {
	inner := &fakeDriverError{state: "0A000"}
	outer := fmt.Errorf("wrapped: %w", inner)

	if got := Classify(outer); got != System {
		t.Fatalf("Classify(outer) = %v, want System", got)
	}
}

func TestClassify_FirstNonApplicationWins(t *testing.T) {
	// The innermost cause is a communication error; an outer application
	// level error should not mask it once unwrapped.
	inner := &fakeDriverError{state: "08001"}
	middle := &fakeDriverError{state: "42601", cause: inner}

	if got := Classify(middle); got != Communication {
		t.Fatalf("Classify(middle) = %v, want Communication", got)
	}
}

func TestClassify_StopsAtTenHops(t *testing.T) {
	// Build a chain of 11 application-level errors with the offending
	// communication error at the bottom (the 12th link) -- it must NOT be
	// found because it exceeds the 10-hop bound.
	var chain error = &fakeDriverError{state: "08001"}
	for i := 0; i < 11; i++ {
		chain = &fakeDriverError{state: "42601", cause: chain}
	}

	if got := Classify(chain); got != Application {
		t.Fatalf("Classify(chain) = %v, want Application (bound exceeded)", got)
	}
}
