package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openherald/herald-pds/internal/events"
	"github.com/openherald/herald-pds/internal/storage"
)

const testDID = "did:web:pds.example.com"

func TestValidateHandle(t *testing.T) {
	for _, h := range []string{
		"pds.example.com",
		"alice.example",
		"a-b.example.co.uk",
	} {
		require.NoError(t, ValidateHandle(h), h)
	}
	for _, h := range []string{
		"",
		"localhost",
		".example.com",
		"example..com",
		"-bad.example",
		"bad-.example",
		"under_score.example",
	} {
		require.ErrorIs(t, ValidateHandle(h), ErrInvalidHandle, h)
	}
}

func TestDocumentShape(t *testing.T) {
	id, err := New(testDID, "pds.example.com", "zQ3shtest", "https://pds.example.com", nil)
	require.NoError(t, err)

	doc := id.Document()
	require.Equal(t, testDID, doc.ID)
	require.Equal(t, []string{"at://pds.example.com"}, doc.AlsoKnownAs)
	require.Len(t, doc.VerificationMethod, 1)
	require.Equal(t, testDID+"#atproto", doc.VerificationMethod[0].ID)
	require.Equal(t, "Multikey", doc.VerificationMethod[0].Type)
	require.Equal(t, "zQ3shtest", doc.VerificationMethod[0].PublicKeyMultibase)
	require.Len(t, doc.Service, 1)
	require.Equal(t, "https://pds.example.com", doc.Service[0].ServiceEndpoint)
}

func TestUpdateHandleEmitsIdentityEvent(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()
	em := events.NewManager(st, testDID)

	id, err := New(testDID, "pds.example.com", "zQ3shtest", "https://pds.example.com", em)
	require.NoError(t, err)

	require.NoError(t, id.UpdateHandle(ctx, "new-handle.example.com"))
	require.Equal(t, "new-handle.example.com", id.Handle())
	require.Equal(t, []string{"at://new-handle.example.com"}, id.Document().AlsoKnownAs)

	require.ErrorIs(t, id.UpdateHandle(ctx, "nope"), ErrInvalidHandle)

	evs, err := st.EventsAfter(ctx, 0)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	require.Equal(t, events.KindIdentity, evs[0].Kind)
}

func TestUpdateStatusEmitsAccountEvent(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()
	em := events.NewManager(st, testDID)

	id, err := New(testDID, "pds.example.com", "zQ3shtest", "https://pds.example.com", em)
	require.NoError(t, err)

	require.NoError(t, id.UpdateStatus(ctx, false, "deactivated"))
	active, status := id.Status()
	require.False(t, active)
	require.Equal(t, "deactivated", status)

	evs, err := st.EventsAfter(ctx, 0)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	require.Equal(t, events.KindAccount, evs[0].Kind)
}
