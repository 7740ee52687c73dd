package transform_test

import "time"

var testTime = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
