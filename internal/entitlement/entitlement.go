// Package entitlement abstracts the content-entitlement provider that turns
// a paid plan into watchable packages for a viewer account.
package entitlement

import (
	"context"
	"errors"
)

// Viewer identifies a customer account on the entitlement side.
type Viewer struct {
	ID    string
	Login string
}

// NewViewerRequest carries what the provider needs to open an account.
type NewViewerRequest struct {
	Login    string
	Name     string
	Document string
	Email    string
}

// Provider grants and revokes package access. Grant and Revoke take the
// provider-side package codes, not local plan IDs.
type Provider interface {
	FindViewer(ctx context.Context, login string) (*Viewer, error)
	CreateViewer(ctx context.Context, req NewViewerRequest) (*Viewer, error)
	Grant(ctx context.Context, viewerID string, packageCodes []string) error
	Revoke(ctx context.Context, viewerID string, packageCodes []string) error
}

// ErrUnavailable means the provider could not be reached.
var ErrUnavailable = errors.New("entitlement_unavailable")

// ErrFailed means the provider answered but did not apply the change.
var ErrFailed = errors.New("entitlement_failure")
