package domain

import "errors"

var (
	ErrProviderNotFound     = errors.New("provider_not_found")
	ErrInvalidProvider      = errors.New("invalid_provider")
	ErrInvalidConfig        = errors.New("invalid_config")
	ErrInvalidSignature     = errors.New("invalid_signature")
	ErrMissingCredentials   = errors.New("missing_credentials")
	ErrGatewayDisabled      = errors.New("gateway_disabled")
	ErrCurrencyNotSupported = errors.New("currency_not_supported")
	ErrNoGatewayAvailable   = errors.New("no_gateway_available")
	ErrNotFound             = errors.New("gateway_not_found")
	ErrEncryptionKeyMissing = errors.New("encryption_key_missing")
)
