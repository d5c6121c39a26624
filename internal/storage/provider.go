// Package storage selects the asset store the API and the worker share.
package storage

import "github.com/appcessorize/MeNewsNetwork-sub000/internal/ports"

// Provider is the configured asset store.
type Provider = ports.StorageProvider
