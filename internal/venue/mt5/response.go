package mt5

import "main/pkg/exception"

// Bridge error codes.
const (
	codeOK                 = 0
	codeInstrumentHalted   = 10018
	codeInsufficientMargin = 10019
	codeUnknownSymbol      = 10014
	codeConnectionLost     = 10031
)

type Response[T any] struct {
	ID     int64         `json:"id"`
	Error  ResponseError `json:"error,omitempty"`
	Result T             `json:"result"`
}

type ResponseError struct {
	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

type ResponseOpenPosition struct {
	Ticket  int64   `json:"ticket"`
	Account string  `json:"account"`
	Symbol  string  `json:"symbol"`
	Side    string  `json:"side"`
	Volume  string  `json:"volume"`
	Price   string  `json:"price"`
	Ctime   float64 `json:"ctime"`
	Source  string  `json:"source"`
}

type ResponsePositionInfo struct {
	Account string `json:"account"`
	Symbol  string `json:"symbol"`
	Side    string `json:"side"`
	Volume  string `json:"volume"`
	Price   string `json:"price"`
}

func bridgeError(e ResponseError) error {
	switch e.Code {
	case codeOK:
		return nil
	case codeInstrumentHalted:
		return exception.ErrVenueInstrumentHalted
	case codeInsufficientMargin:
		return exception.ErrVenueInsufficientMargin
	case codeUnknownSymbol:
		return exception.ErrVenueUnknownInstrument
	case codeConnectionLost:
		return exception.ErrVenueConnectionLost
	default:
		return exception.ErrVenueRejected
	}
}
