package domain

import "errors"

var (
	ErrChannelNotOpen         = errors.New("channel is not open")
	ErrChannelClosed          = errors.New("channel already closed")
	ErrNotRegistered          = errors.New("client not registered")
	ErrSendBufferFull         = errors.New("send buffer full")
	ErrImageQueueFull         = errors.New("image queue full")
	ErrInvalidEnvelope        = errors.New("invalid envelope")
	ErrInvalidClientID        = errors.New("invalid client id")
	ErrSequenceNotInitialized = errors.New("client sequence not initialized")
)
