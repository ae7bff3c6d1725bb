package build

import "github.com/raulk/clock"

// Clock is the global clock for the system. In standard builds,
// we use a real-time clock, which maps to the `time` package.
//
// Tests that need to move time around inject a mock clock into the
// component under test instead of touching this global.
var Clock = clock.New()
