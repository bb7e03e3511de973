package store

// Keys names every store key pulse uses. Queue keys carry a {name} hash tag
// so a queue's keys share one Redis Cluster slot.
type Keys struct {
	Prefix string
}

// Registry is the authoritative account set.
func (k Keys) Registry() string { return k.Prefix + "accounts" }

// Queue is the backing list or log of a queue.
func (k Keys) Queue(name string) string { return k.Prefix + "{" + name + "}:queue" }

// Pending is the set of accounts outstanding in a queue.
func (k Keys) Pending(name string) string { return k.Prefix + "{" + name + "}:pending" }

// Dead is the set of accounts dropped from a queue after too many deliveries.
func (k Keys) Dead(name string) string { return k.Prefix + "{" + name + "}:dead" }
