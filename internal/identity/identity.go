// Package identity owns the node's public identity: the did:web
// document served under /.well-known, the account handle, and the
// account's active status. Handle and status changes are announced on
// the firehose.
package identity

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/openherald/herald-pds/internal/events"
)

// ErrInvalidHandle is returned for handles that are not valid DNS
// names.
var ErrInvalidHandle = fmt.Errorf("identity: invalid handle")

var handleLabel = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?$`)

// ValidateHandle checks that a handle is a plausible DNS name: at
// least two labels, each alphanumeric-with-hyphens, 253 chars total.
func ValidateHandle(handle string) error {
	if len(handle) == 0 || len(handle) > 253 {
		return fmt.Errorf("%w: %q", ErrInvalidHandle, handle)
	}
	labels := strings.Split(handle, ".")
	if len(labels) < 2 {
		return fmt.Errorf("%w: %q", ErrInvalidHandle, handle)
	}
	for _, l := range labels {
		if !handleLabel.MatchString(l) {
			return fmt.Errorf("%w: %q", ErrInvalidHandle, handle)
		}
	}
	return nil
}

// Document is an AT Protocol DID document.
type Document struct {
	Context            []string             `json:"@context"`
	ID                 string               `json:"id"`
	AlsoKnownAs        []string             `json:"alsoKnownAs"`
	VerificationMethod []VerificationMethod `json:"verificationMethod"`
	Service            []Service            `json:"service"`
}

// VerificationMethod describes a signing key in a DID document.
type VerificationMethod struct {
	ID                 string `json:"id"`
	Type               string `json:"type"`
	Controller         string `json:"controller"`
	PublicKeyMultibase string `json:"publicKeyMultibase"`
}

// Service describes a service endpoint in a DID document.
type Service struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	ServiceEndpoint string `json:"serviceEndpoint"`
}

// Identity is the node's mutable public identity.
type Identity struct {
	did             string
	publicMultibase string
	origin          string
	events          *events.Manager

	mu     sync.RWMutex
	handle string
	active bool
	status string
}

// New creates the identity for this node. em may be nil when no
// firehose is attached (tests).
func New(did, handle, publicMultibase, origin string, em *events.Manager) (*Identity, error) {
	if err := ValidateHandle(handle); err != nil {
		return nil, err
	}
	return &Identity{
		did:             did,
		publicMultibase: publicMultibase,
		origin:          origin,
		events:          em,
		handle:          handle,
		active:          true,
	}, nil
}

// DID returns the node's DID.
func (id *Identity) DID() string { return id.did }

// Handle returns the current handle.
func (id *Identity) Handle() string {
	id.mu.RLock()
	defer id.mu.RUnlock()
	return id.handle
}

// Status returns the account's active flag and optional status label.
func (id *Identity) Status() (bool, string) {
	id.mu.RLock()
	defer id.mu.RUnlock()
	return id.active, id.status
}

// UpdateHandle validates and adopts a new handle, announcing it with
// an #identity event.
func (id *Identity) UpdateHandle(ctx context.Context, handle string) error {
	if err := ValidateHandle(handle); err != nil {
		return err
	}
	id.mu.Lock()
	id.handle = handle
	id.mu.Unlock()

	if id.events != nil {
		if err := id.events.EmitIdentity(ctx, handle); err != nil {
			return fmt.Errorf("identity: emit handle change: %w", err)
		}
	}
	return nil
}

// UpdateStatus sets the account's active flag and status label,
// announcing the change with an #account event.
func (id *Identity) UpdateStatus(ctx context.Context, active bool, status string) error {
	id.mu.Lock()
	id.active = active
	id.status = status
	id.mu.Unlock()

	if id.events != nil {
		if err := id.events.EmitAccount(ctx, active, status); err != nil {
			return fmt.Errorf("identity: emit status change: %w", err)
		}
	}
	return nil
}

// Document assembles the DID document served at /.well-known/did.json.
func (id *Identity) Document() *Document {
	return &Document{
		Context: []string{
			"https://www.w3.org/ns/did/v1",
			"https://w3id.org/security/multikey/v1",
		},
		ID:          id.did,
		AlsoKnownAs: []string{"at://" + id.Handle()},
		VerificationMethod: []VerificationMethod{{
			ID:                 id.did + "#atproto",
			Type:               "Multikey",
			Controller:         id.did,
			PublicKeyMultibase: id.publicMultibase,
		}},
		Service: []Service{{
			ID:              "#atproto_pds",
			Type:            "AtprotoPersonalDataServer",
			ServiceEndpoint: id.origin,
		}},
	}
}
