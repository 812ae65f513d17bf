package domain

// Capability is a named permission checked through the injected access
// policy collaborator. The core never stores role assignments; it only
// names the capability an operation requires.
type Capability string

const (
	CapabilityProducer    Capability = "producer"
	CapabilityProcessor   Capability = "processor"
	CapabilityDistributor Capability = "distributor"
	CapabilityRetailer    Capability = "retailer"
	CapabilityAuditor     Capability = "auditor"
	CapabilityAdmin       Capability = "admin"
	CapabilityEmergency   Capability = "emergency"
)

func (c Capability) String() string { return string(c) }
