// Package service implements the admin surface and the message handlers.
package service

import "github.com/google/wire"

// ProviderSet is service providers.
var ProviderSet = wire.NewSet(NewAdminService, NewConsistencyRequestService)
