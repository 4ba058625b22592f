// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import "github.com/google/uuid"

// SiteIDSource mints replica site identifiers. Site IDs participate in
// CRDT ordering tie-breaks, so they must be unique per replica and
// stable for the replica's lifetime.
type SiteIDSource interface {
	NewSiteID() string
}

type uuidSource struct{}

func (uuidSource) NewSiteID() string { return uuid.NewString() }

// DefaultSiteIDSource returns a UUIDv4-backed source. Tests substitute
// a fixed source for deterministic ordering.
func DefaultSiteIDSource() SiteIDSource { return uuidSource{} }
