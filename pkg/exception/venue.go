package exception

import "github.com/yanun0323/errors"

var (
	ErrVenueUnavailable = errors.New("venue: unavailable")
	ErrVenueNoMark      = errors.New("venue: no mark price for asset")
)
