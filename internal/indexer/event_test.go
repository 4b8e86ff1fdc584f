package indexer

import (
	"regexp"
	"testing"

	"orgregistry/model"

	"github.com/hyperledger/fabric-sdk-go/pkg/common/providers/fab"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventFilterMatchesIndexedEventsOnly(t *testing.T) {
	re := regexp.MustCompile(EventFilter)
	for _, name := range []string{model.EventIdentityCreated, model.EventOrgRootUpdated, model.EventProofVerified} {
		assert.True(t, re.MatchString(name), name)
	}
	for _, name := range []string{model.EventVerifierKeyRegistered, model.EventVerifierKeyRevoked, "ProofVerifiedX"} {
		assert.False(t, re.MatchString(name), name)
	}
}

func TestDecode(t *testing.T) {
	ev, err := Decode(&fab.CCEvent{
		TxID:        "tx1",
		EventName:   model.EventProofVerified,
		BlockNumber: 12,
		Payload:     []byte(`{"principal":"alice","orgId":3,"fileId":8,"txId":"tx1","timestamp":1000}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "tx1", ev.TxID)
	assert.Equal(t, uint64(12), ev.BlockNumber)
	require.NotNil(t, ev.ProofVerified)
	assert.Equal(t, uint32(3), ev.ProofVerified.OrgID)
	assert.Equal(t, uint32(8), ev.ProofVerified.FileID)
	assert.Nil(t, ev.IdentityCreated)
	assert.Nil(t, ev.OrgRootUpdated)
}

func TestDecodeFallsBackToPayloadTxID(t *testing.T) {
	ev, err := Decode(&fab.CCEvent{
		EventName: model.EventOrgRootUpdated,
		Payload:   []byte(`{"orgId":1,"root":"ab","txId":"tx7","timestamp":5}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "tx7", ev.TxID)
	assert.Equal(t, "ab", ev.OrgRootUpdated.Root)
}

func TestDecodeErrors(t *testing.T) {
	_, err := Decode(&fab.CCEvent{EventName: model.EventVerifierKeyRevoked, TxID: "tx", Payload: []byte(`{}`)})
	assert.ErrorIs(t, err, ErrUnknownEvent)

	_, err = Decode(&fab.CCEvent{EventName: model.EventIdentityCreated, TxID: "tx", Payload: []byte(`{`)})
	assert.Error(t, err)

	_, err = Decode(&fab.CCEvent{EventName: model.EventIdentityCreated, Payload: []byte(`{"principal":"a"}`)})
	assert.Error(t, err)

	_, err = Decode(nil)
	assert.Error(t, err)
}
