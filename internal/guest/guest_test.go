package guest

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdatePreservesFields(t *testing.T) {
	in := `{"idGuest":"g7","name":"Ana","assignedTo":"u1","tags":["vip"],"plusOne":true}`

	var u Update
	require.NoError(t, json.Unmarshal([]byte(in), &u))
	assert.Equal(t, "g7", u.ID)

	out, err := json.Marshal(u)
	require.NoError(t, err)
	assert.JSONEq(t, in, string(out))
}

func TestUpdateNumericID(t *testing.T) {
	var u Update
	require.NoError(t, json.Unmarshal([]byte(`{"idGuest":42,"name":"Bo"}`), &u))
	assert.Equal(t, "42", u.ID)

	out, err := json.Marshal(u)
	require.NoError(t, err)
	assert.JSONEq(t, `{"idGuest":42,"name":"Bo"}`, string(out), "numeric id should stay numeric on the wire")
}

func TestUpdateMissingID(t *testing.T) {
	var u Update
	require.NoError(t, json.Unmarshal([]byte(`{"name":"Ana"}`), &u))
	assert.ErrorIs(t, u.Validate(), ErrMissingID)

	require.NoError(t, json.Unmarshal([]byte(`{"idGuest":null}`), &u))
	assert.ErrorIs(t, u.Validate(), ErrMissingID)
}

func TestUpdateRejectsNonObject(t *testing.T) {
	var u Update
	assert.Error(t, json.Unmarshal([]byte(`"g7"`), &u))
	assert.Error(t, json.Unmarshal([]byte(`{"idGuest":{"x":1}}`), &u))
}

func TestUpdateMarshalAddsID(t *testing.T) {
	out, err := json.Marshal(Update{ID: "g1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"idGuest":"g1"}`, string(out))
}

func TestClaimContextJSON(t *testing.T) {
	var ids ClaimContext
	require.NoError(t, json.Unmarshal([]byte(`{"idGroup":"G1","idUser":"u1"}`), &ids))
	assert.Equal(t, ClaimContext{GroupID: "G1", UserID: "u1"}, ids)
}

func TestClaimContextNumericIDs(t *testing.T) {
	var ids ClaimContext
	require.NoError(t, json.Unmarshal([]byte(`{"idGroup":12,"idUser":null}`), &ids))
	assert.Equal(t, ClaimContext{GroupID: "12"}, ids)

	out, err := json.Marshal(ids)
	require.NoError(t, err)
	assert.JSONEq(t, `{"idGroup":"12"}`, string(out))

	assert.Error(t, json.Unmarshal([]byte(`{"idGroup":{"x":1}}`), &ids))
}
