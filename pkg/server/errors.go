package server

import "errors"

var errFeedDisconnected = errors.New("rate feed disconnected")
