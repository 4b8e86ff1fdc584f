// Package indexer mirrors registry chaincode events into a queryable read model.
package indexer

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"orgregistry/model"

	"github.com/hyperledger/fabric-sdk-go/pkg/common/providers/fab"
)

// EventFilter selects the chaincode events the read model is built from.
var EventFilter = "^(" + strings.Join([]string{
	model.EventIdentityCreated,
	model.EventOrgRootUpdated,
	model.EventProofVerified,
}, "|") + ")$"

var ErrUnknownEvent = errors.New("unknown event")

// Event is a decoded chaincode event. Exactly one payload field is set.
type Event struct {
	Name        string
	TxID        string
	BlockNumber uint64

	IdentityCreated *model.IdentityCreatedEvent
	OrgRootUpdated  *model.OrgRootUpdatedEvent
	ProofVerified   *model.ProofVerifiedEvent
}

// Decode parses a gateway event. Names outside EventFilter yield ErrUnknownEvent.
func Decode(ev *fab.CCEvent) (*Event, error) {
	if ev == nil {
		return nil, errors.New("nil event")
	}
	out := &Event{Name: ev.EventName, TxID: ev.TxID, BlockNumber: ev.BlockNumber}

	var (
		target interface{}
		txID   *string
	)
	switch ev.EventName {
	case model.EventIdentityCreated:
		out.IdentityCreated = &model.IdentityCreatedEvent{}
		target, txID = out.IdentityCreated, &out.IdentityCreated.TxID
	case model.EventOrgRootUpdated:
		out.OrgRootUpdated = &model.OrgRootUpdatedEvent{}
		target, txID = out.OrgRootUpdated, &out.OrgRootUpdated.TxID
	case model.EventProofVerified:
		out.ProofVerified = &model.ProofVerifiedEvent{}
		target, txID = out.ProofVerified, &out.ProofVerified.TxID
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, ev.EventName)
	}
	if err := json.Unmarshal(ev.Payload, target); err != nil {
		return nil, fmt.Errorf("decode %s payload of tx %s: %w", ev.EventName, ev.TxID, err)
	}
	if out.TxID == "" {
		out.TxID = *txID
	}
	if out.TxID == "" {
		return nil, fmt.Errorf("%s event carries no transaction id", ev.EventName)
	}
	return out, nil
}
