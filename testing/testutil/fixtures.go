package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/AshkanYarmoradi/go-stoat"
)

// UserAggregateType is the aggregate type of the user fixture.
const UserAggregateType = "User"

// ErrInsufficientCredits is returned by the user executor when a gift costs
// more than the user's balance.
var ErrInsufficientCredits = errors.New("insufficient credits")

// User domain events.
type (
	UserCreated struct {
		Email string `json:"email"`
		Role  string `json:"role"`
	}

	EmailChanged struct {
		Email string `json:"email"`
	}

	RoleChanged struct {
		Role string `json:"role"`
	}

	CreditsAdded struct {
		Amount int `json:"amount"`
	}

	GiftPurchased struct {
		Gift string `json:"gift"`
		Cost int    `json:"cost"`
	}
)

// RegisterUserEvents adds every user event to the registry.
func RegisterUserEvents(r *stoat.EventRegistry) {
	r.RegisterAll(UserCreated{}, EmailChanged{}, RoleChanged{}, CreditsAdded{}, GiftPurchased{})
}

// UserEvent encodes payload as JSON event data for the given user.
func UserEvent(userID string, payload interface{}) stoat.EventData {
	data := stoat.MustEncode(stoat.NewJSONSerializer(), payload)
	data.AggregateID = userID
	data.AggregateType = UserAggregateType
	return data
}

// UserState is the replayable view of a user.
type UserState struct {
	Email   string `json:"email"`
	Role    string `json:"role"`
	Credits int    `json:"credits"`
	Gifts   int    `json:"gifts"`
}

// Apply folds one event into the state. Unknown event types are ignored.
func (s UserState) Apply(e stoat.Event) (UserState, error) {
	decode := func(v interface{}) error {
		if err := json.Unmarshal(e.Data, v); err != nil {
			return fmt.Errorf("decode %s: %w", e.Type, err)
		}
		return nil
	}

	switch e.Type {
	case "UserCreated":
		var p UserCreated
		if err := decode(&p); err != nil {
			return s, err
		}
		s.Email, s.Role = p.Email, p.Role
	case "EmailChanged":
		var p EmailChanged
		if err := decode(&p); err != nil {
			return s, err
		}
		s.Email = p.Email
	case "RoleChanged":
		var p RoleChanged
		if err := decode(&p); err != nil {
			return s, err
		}
		s.Role = p.Role
	case "CreditsAdded":
		var p CreditsAdded
		if err := decode(&p); err != nil {
			return s, err
		}
		s.Credits += p.Amount
	case "GiftPurchased":
		var p GiftPurchased
		if err := decode(&p); err != nil {
			return s, err
		}
		s.Credits -= p.Cost
		s.Gifts++
	}
	return s, nil
}

// ReduceUser is a stoat.Reducer over UserState.
func ReduceUser(s UserState, e stoat.Event) (UserState, error) {
	return s.Apply(e)
}

// User is a snapshotting aggregate over UserState.
type User struct {
	stoat.AggregateBase
	UserState
}

var (
	_ stoat.Aggregate   = (*User)(nil)
	_ stoat.Snapshotter = (*User)(nil)
)

// NewUser creates an empty user aggregate.
func NewUser(id string) *User {
	return &User{AggregateBase: stoat.NewAggregateBase(id, UserAggregateType)}
}

// When applies an event to the user.
func (u *User) When(e stoat.Event) error {
	next, err := u.UserState.Apply(e)
	if err != nil {
		return err
	}
	u.UserState = next
	return nil
}

// SnapshotState implements stoat.Snapshotter.
func (u *User) SnapshotState() interface{} {
	return u.UserState
}

// RestoreState implements stoat.Snapshotter.
func (u *User) RestoreState(decode func(v interface{}) error) error {
	return decode(&u.UserState)
}

// User commands.
type (
	CreateUser struct {
		stoat.CommandBase
		UserID string
		Email  string
	}

	ChangeEmail struct {
		stoat.CommandBase
		UserID string
		Email  string
	}

	AddCredits struct {
		stoat.CommandBase
		UserID string
		Amount int
	}

	PurchaseGift struct {
		stoat.CommandBase
		UserID string
		Gift   string
		Cost   int
	}
)

func (c CreateUser) CommandType() string   { return "CreateUser" }
func (c CreateUser) AggregateID() string   { return c.UserID }
func (c CreateUser) AggregateType() string { return UserAggregateType }

func (c ChangeEmail) CommandType() string   { return "ChangeEmail" }
func (c ChangeEmail) AggregateID() string   { return c.UserID }
func (c ChangeEmail) AggregateType() string { return UserAggregateType }

func (c AddCredits) CommandType() string   { return "AddCredits" }
func (c AddCredits) AggregateID() string   { return c.UserID }
func (c AddCredits) AggregateType() string { return UserAggregateType }

// Validate rejects non-positive amounts.
func (c AddCredits) Validate() error {
	if c.Amount <= 0 {
		return fmt.Errorf("amount must be positive, got %d", c.Amount)
	}
	return nil
}

func (c PurchaseGift) CommandType() string   { return "PurchaseGift" }
func (c PurchaseGift) AggregateID() string   { return c.UserID }
func (c PurchaseGift) AggregateType() string { return UserAggregateType }

// Validate rejects non-positive costs.
func (c PurchaseGift) Validate() error {
	if c.Cost <= 0 {
		return fmt.Errorf("cost must be positive, got %d", c.Cost)
	}
	return nil
}

// UserExecutor decides the events for user commands.
// A gift costing more than the current balance fails with ErrInsufficientCredits.
func UserExecutor() stoat.Executor {
	s := stoat.NewJSONSerializer()
	return stoat.ExecutorFunc(func(ctx context.Context, agg stoat.Aggregate, cmd stoat.Command) ([]stoat.EventData, error) {
		user, ok := agg.(*User)
		if !ok {
			return nil, fmt.Errorf("unexpected aggregate %T", agg)
		}

		switch c := cmd.(type) {
		case CreateUser:
			if user.Version() > 0 {
				return nil, fmt.Errorf("user %s already exists", c.UserID)
			}
			return []stoat.EventData{stoat.MustEncode(s, UserCreated{Email: c.Email, Role: "member"})}, nil
		case ChangeEmail:
			if user.Email == c.Email {
				return nil, nil
			}
			return []stoat.EventData{stoat.MustEncode(s, EmailChanged{Email: c.Email})}, nil
		case AddCredits:
			return []stoat.EventData{stoat.MustEncode(s, CreditsAdded{Amount: c.Amount})}, nil
		case PurchaseGift:
			if user.Credits < c.Cost {
				return nil, ErrInsufficientCredits
			}
			return []stoat.EventData{stoat.MustEncode(s, GiftPurchased{Gift: c.Gift, Cost: c.Cost})}, nil
		}
		return nil, fmt.Errorf("unknown command %s", cmd.CommandType())
	})
}

// UserRegistry returns an aggregate registry that knows the user type.
func UserRegistry() *stoat.AggregateRegistry {
	r := stoat.NewAggregateRegistry()
	r.Register(UserAggregateType, func(id string) stoat.Aggregate { return NewUser(id) })
	return r
}
