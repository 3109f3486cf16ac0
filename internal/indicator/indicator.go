// Package indicator provides rolling technical indicator calculations over
// the incoming bar stream: EMA, Stochastic %K/%D, ATR, and volume SMA.
//
// All rolling windows use fixed-size circular buffers, so memory is
// O(window size) regardless of how long the bot runs. Every component
// reports Ready(); downstream consumers must treat not-yet-ready values
// as "no signal".
package indicator

import (
	"fmt"
	"time"
)

// OutOfOrderBarError reports a bar whose start timestamp does not strictly
// increase past the last processed bar. The bar is rejected; engine state
// is unchanged.
type OutOfOrderBarError struct {
	Last time.Time
	Got  time.Time
}

func (e *OutOfOrderBarError) Error() string {
	return fmt.Sprintf("out-of-order bar: got %s, last processed %s",
		e.Got.UTC().Format(time.RFC3339), e.Last.UTC().Format(time.RFC3339))
}
