package domain

import "fmt"

// ReferenceKind names the aggregate a Reference points at
type ReferenceKind string

const (
	ReferenceKindPurchaseLink ReferenceKind = "purchase_link"
	ReferenceKindTicketHold   ReferenceKind = "ticket_hold"
	ReferenceKindPurchase     ReferenceKind = "purchase"
)

// IsValid checks if the kind is known
func (k ReferenceKind) IsValid() bool {
	switch k {
	case ReferenceKindPurchaseLink, ReferenceKindTicketHold, ReferenceKindPurchase:
		return true
	}
	return false
}

// Reference is a typed pointer to another aggregate
type Reference struct {
	Kind ReferenceKind `json:"kind"`
	ID   string        `json:"id"`
}

func HoldRef(id string) Reference     { return Reference{Kind: ReferenceKindTicketHold, ID: id} }
func LinkRef(id string) Reference     { return Reference{Kind: ReferenceKindPurchaseLink, ID: id} }
func PurchaseRef(id string) Reference { return Reference{Kind: ReferenceKindPurchase, ID: id} }

// ParseReference rebuilds a Reference from its stored columns
func ParseReference(kind, id string) (Reference, error) {
	ref := Reference{Kind: ReferenceKind(kind), ID: id}
	if !ref.Kind.IsValid() {
		return Reference{}, fmt.Errorf("unknown reference kind %q", kind)
	}
	if id == "" {
		return Reference{}, fmt.Errorf("reference %s has no id", kind)
	}
	return ref, nil
}

func (r Reference) IsZero() bool { return r.Kind == "" && r.ID == "" }

func (r Reference) String() string {
	return string(r.Kind) + ":" + r.ID
}
