package catalog

// Action names of the network event catalog.
const (
	ReaderRegistered              = "reader_registered"
	NodeOrderChanged              = "newspack_node_order_changed"
	NodeSubscriptionChanged       = "newspack_node_subscription_changed"
	WooMembershipUpdated          = "newspack_network_woo_membership_updated"
	UserUpdated                   = "network_user_updated"
	UserDeleted                   = "network_user_deleted"
	UserManuallySynced            = "network_manual_sync_user"
	NodesSynced                   = "network_nodes_synced"
	DonationNew                   = "donation_new"
	DonationSubscriptionCancelled = "donation_subscription_cancelled"
)

// Definition declares an action and whether Nodes pull it. Handlers are bound
// separately so this list carries no dependencies.
type Definition struct {
	Name     string
	Pullable bool
}

// Definitions is the fixed network catalog.
var Definitions = []Definition{
	{Name: ReaderRegistered, Pullable: true},
	{Name: NodeOrderChanged},
	{Name: NodeSubscriptionChanged},
	{Name: WooMembershipUpdated, Pullable: true},
	{Name: UserUpdated, Pullable: true},
	{Name: UserDeleted, Pullable: true},
	{Name: UserManuallySynced, Pullable: true},
	{Name: NodesSynced, Pullable: true},
	{Name: DonationNew},
	{Name: DonationSubscriptionCancelled},
}

// Build registers every definition, taking handlers from handlers by name.
// Definitions without a handler get NoOp.
func Build(handlers map[string]Handler) *Registry {
	r := NewRegistry()
	for _, d := range Definitions {
		r.Register(Action{Name: d.Name, Handler: handlers[d.Name], Pullable: d.Pullable})
	}
	return r
}
