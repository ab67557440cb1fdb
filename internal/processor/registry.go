package processor

import (
	"github.com/gyaneshwarpardhi/pubnet/internal/catalog"
	"github.com/gyaneshwarpardhi/pubnet/internal/condition"
)

// Mirror kinds.
const (
	KindUser         = "user"
	KindMembership   = "membership"
	KindOrder        = "order"
	KindSubscription = "subscription"
	KindDonor        = "donor"
)

// Deps are the collaborators the default handlers write to.
type Deps struct {
	Mirror MirrorStore
	// Peers is only needed on a Node.
	Peers PeerSaver
}

// NewRegistry binds the default handlers to the network catalog.
func NewRegistry(d Deps) *catalog.Registry {
	users := MirrorHandler{
		Store:     d.Mirror,
		Kind:      KindUser,
		KeyFields: []string{"email"},
		Replace:   true,
	}
	readers := MirrorHandler{Store: d.Mirror, Kind: KindUser, KeyFields: []string{"email"}}
	memberships := MirrorHandler{
		Store:      d.Mirror,
		Kind:       KindMembership,
		KeyFields:  []string{"email", "membership_id"},
		Replace:    true,
		RemoveWhen: condition.MustParse(`new_status != "active"`),
	}
	orders := MirrorHandler{Store: d.Mirror, Kind: KindOrder, KeyFields: []string{"id"}, PerSite: true, Replace: true}
	subscriptions := MirrorHandler{Store: d.Mirror, Kind: KindSubscription, KeyFields: []string{"id"}, PerSite: true, Replace: true}
	donors := MirrorHandler{
		Store:      d.Mirror,
		Kind:       KindDonor,
		KeyFields:  []string{"email"},
		PerSite:    true,
		Replace:    true,
		RemoveWhen: condition.MustParse(`action == "` + catalog.DonationSubscriptionCancelled + `"`),
	}
	removeUser := RemoveHandler{Store: d.Mirror, Kind: KindUser, KeyFields: []string{"email"}}

	var peers catalog.ApplyFunc
	if d.Peers != nil {
		peers = NodesSyncedHandler{Peers: d.Peers}.Apply
	}

	return catalog.Build(map[string]catalog.Handler{
		catalog.ReaderRegistered:              catalog.Funcs{Hub: readers.Apply, Node: readers.Apply},
		catalog.NodeOrderChanged:              catalog.Funcs{Hub: orders.Apply},
		catalog.NodeSubscriptionChanged:       catalog.Funcs{Hub: subscriptions.Apply},
		catalog.WooMembershipUpdated:          catalog.Funcs{Node: memberships.Apply},
		catalog.UserUpdated:                   catalog.Funcs{Hub: users.Apply, Node: users.Apply},
		catalog.UserDeleted:                   catalog.Funcs{Node: removeUser.Apply},
		catalog.UserManuallySynced:            catalog.Funcs{Node: users.Apply},
		catalog.NodesSynced:                   catalog.Funcs{Node: peers},
		catalog.DonationNew:                   catalog.Funcs{Hub: donors.Apply},
		catalog.DonationSubscriptionCancelled: catalog.Funcs{Hub: donors.Apply},
	})
}
