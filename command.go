package stoat

// Command represents an intent to change one aggregate.
// Commands are the write side of CQRS.
type Command interface {
	// CommandType returns the type identifier for this command (e.g., "PurchaseGift").
	CommandType() string

	// AggregateID returns the ID of the aggregate this command targets.
	AggregateID() string

	// AggregateType returns the type of the targeted aggregate (e.g., "User").
	AggregateType() string
}

// Validatable is implemented by commands with their own field checks.
// Validate runs before the aggregate is loaded; its error is returned unchanged.
type Validatable interface {
	Validate() error
}

// CommandBase provides optional tracing fields for command types.
// Embed this struct in your command types; the fields end up in the
// metadata of every event the command produces.
type CommandBase struct {
	// CorrelationID links related commands and events for distributed tracing.
	CorrelationID string `json:"correlationId,omitempty"`

	// CausationID identifies the event or command that caused this command.
	CausationID string `json:"causationId,omitempty"`

	// ActorID identifies who issued the command.
	ActorID string `json:"actorId,omitempty"`
}

// WithCorrelationID returns a copy of CommandBase with the correlation ID set.
func (c CommandBase) WithCorrelationID(id string) CommandBase {
	c.CorrelationID = id
	return c
}

// WithCausationID returns a copy of CommandBase with the causation ID set.
func (c CommandBase) WithCausationID(id string) CommandBase {
	c.CausationID = id
	return c
}

// WithActorID returns a copy of CommandBase with the actor ID set.
func (c CommandBase) WithActorID(id string) CommandBase {
	c.ActorID = id
	return c
}

// EventMetadata returns the metadata stamped on produced events.
func (c CommandBase) EventMetadata() Metadata {
	return Metadata{
		CorrelationID: c.CorrelationID,
		CausationID:   c.CausationID,
		ActorID:       c.ActorID,
	}
}

type metadataCarrier interface {
	EventMetadata() Metadata
}

// CommandResult represents the result of command execution.
type CommandResult struct {
	// Success indicates whether the command executed successfully.
	Success bool

	// AggregateID is the ID of the aggregate affected by the command.
	AggregateID string

	// Version is the new version of the aggregate after command execution.
	Version int64

	// EventCount is the number of events the command appended.
	EventCount int

	// Error contains the error if the command failed.
	Error error
}

// NewSuccessResult creates a successful CommandResult.
func NewSuccessResult(aggregateID string, version int64, eventCount int) CommandResult {
	return CommandResult{
		Success:     true,
		AggregateID: aggregateID,
		Version:     version,
		EventCount:  eventCount,
	}
}

// NewErrorResult creates a failed CommandResult.
func NewErrorResult(err error) CommandResult {
	return CommandResult{
		Success: false,
		Error:   err,
	}
}

// IsSuccess returns true if the command executed successfully.
func (r CommandResult) IsSuccess() bool {
	return r.Success && r.Error == nil
}

// IsError returns true if the command failed.
func (r CommandResult) IsError() bool {
	return !r.Success || r.Error != nil
}
