package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewDraftIdentifiers(t *testing.T) {
	draft := NewDraft("")
	require.Len(t, draft.ID, 13)
	require.Regexp(t, `^INS-[0-9A-Z]{6}$`, draft.InstructionID)
	require.Regexp(t, `^REF-[0-9A-Z]{6}$`, draft.RefID)
	require.Equal(t, StatusPending, draft.VerificationStatus)
	require.NotEmpty(t, draft.VerificationDate)
	require.Nil(t, draft.CreatedAt)
}

func TestNewDraftKeepsSuppliedID(t *testing.T) {
	draft := NewDraft("abc123")
	require.Equal(t, "abc123", draft.ID)
}

func TestStatusValid(t *testing.T) {
	require.True(t, StatusPending.Valid())
	require.True(t, StatusPass.Valid())
	require.True(t, StatusFail.Valid())
	require.False(t, VerificationStatus("maybe").Valid())
	require.False(t, VerificationStatus("").Valid())
}

func TestEvidenceSlots(t *testing.T) {
	rec := NewDraft("abc123")
	meta := &PhotoMetadata{Timestamp: "2026:02:18 15:59:43", Location: "17.6983203,83.1629180"}

	for _, slot := range SlotKeys() {
		require.NoError(t, rec.SetEvidence(slot, "data:image/jpeg;base64,Zm9v", meta))

		image, gotMeta, err := rec.Evidence(slot)
		require.NoError(t, err)
		require.Equal(t, "data:image/jpeg;base64,Zm9v", image)
		require.Equal(t, meta, gotMeta)
	}

	require.Error(t, rec.SetEvidence("passport", "x", nil))

	_, _, err := rec.Evidence("passport")
	require.Error(t, err)
}

func TestEvaluated(t *testing.T) {
	rec := NewDraft("abc123")
	require.False(t, rec.Evaluated())

	lat, lng := 12.0, 77.0
	rec.ClaimedLat = &lat
	require.False(t, rec.Evaluated())

	rec.ClaimedLng = &lng
	require.True(t, rec.Evaluated())
}

func TestRecordHashStable(t *testing.T) {
	InitHashFunction()

	rec := &VerificationRecord{
		ID:                 "abc123",
		InstructionID:      "INS-4F7K2Q",
		RefID:              "REF-9A01ZX",
		Name:               "John Doe",
		Address:            "12 MG Road, Visakhapatnam",
		VerificationStatus: StatusPass,
		Comment:            "Address matches GPS location",
	}

	first, err := rec.Hash()
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := rec.Hash()
	require.NoError(t, err)
	require.Equal(t, first, second)

	rec.Comment = "changed"
	third, err := rec.Hash()
	require.NoError(t, err)
	require.NotEqual(t, first, third)
}

func TestRecordJSONShape(t *testing.T) {
	rec := NewDraft("abc123")
	rec.Name = "John Doe"

	raw, err := json.Marshal(rec)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))

	require.Equal(t, "abc123", decoded["id"])
	require.Equal(t, "pending", decoded["verification_status"])
	require.Contains(t, decoded, "instruction_id")
	require.Contains(t, decoded, "ref_id")

	// Optional fields stay absent until populated.
	require.NotContains(t, decoded, "selfie")
	require.NotContains(t, decoded, "claimed_lat")
	require.NotContains(t, decoded, "created_at")
}

func TestPhotoMetadataColumnRoundTrip(t *testing.T) {
	meta := PhotoMetadata{Timestamp: "2026:02:18 15:59:43", Location: "17.6983203,83.1629180"}

	value, err := meta.Value()
	require.NoError(t, err)

	var decoded PhotoMetadata
	require.NoError(t, decoded.Scan(value))
	require.Equal(t, meta, decoded)

	require.NoError(t, decoded.Scan(nil))
}
