package demux

import "errors"

var (
	// ErrConfiguration: Start was called with unusable settings.
	ErrConfiguration = errors.New("demux: invalid configuration")
	// ErrResource: the session or subscription could not be opened.
	ErrResource = errors.New("demux: resource unavailable")
	// ErrDecode: an envelope or compressed payload could not be decoded.
	ErrDecode = errors.New("demux: decode failed")
	// ErrDelivery: a buffer or stream could not be handed to the host.
	ErrDelivery = errors.New("demux: delivery failed")
	// ErrTransport: the subscription failed and the receiver stopped.
	ErrTransport = errors.New("demux: transport failed")
	// ErrBusy: the operation is not allowed in the current state.
	ErrBusy = errors.New("demux: busy")
	// ErrAborted: Stop was called while Start was still in progress.
	ErrAborted = errors.New("demux: start aborted")
)
