package api

// Device identifies one robot on the account. Values come from the
// device list endpoint and are immutable; the device class and resource
// are used to build broker topic filters and command envelopes.
type Device struct {
	// ID is the opaque device id ("did").
	ID string

	// ShortID is the short device identifier.
	ShortID string

	// Nickname is the user-assigned display name.
	Nickname string

	// ProductCategory is the upstream product category label.
	ProductCategory string

	// Model is the model name.
	Model string

	// Status is the raw device status flag (1 appears to mean online).
	Status int

	// Class is the device class used in topics and command envelopes.
	Class string

	// Resource is the device resource id used in topics and command
	// envelopes.
	Resource string
}
