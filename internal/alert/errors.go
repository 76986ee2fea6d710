package alert

import "errors"

// A run stops on these, per-alert failures only land in the RunReport
var (
	ErrPriceFetch = errors.New("price fetch failed")
	ErrStoreRead  = errors.New("alert listing failed")
)
